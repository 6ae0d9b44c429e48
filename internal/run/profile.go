package run

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/feedwrap/feedwrap/internal/types"
)

// XPath expressions for the profile header. The header has fewer stable
// testids than feed items, so matching leans on text content.
const (
	xpathJoined      = `//div[@data-testid="UserProfileHeader_Items"]//span[contains(., "Joined")]`
	xpathDisplayName = `//div[@data-testid="UserName"]//span`
	xpathAvatar      = `//a[contains(@href, "/photo")]//img[contains(@src, "profile_images")]`
	xpathAvatarAlt   = `//div[contains(@data-testid, "UserAvatar-Container")]//img`
)

// parseProfileHeader extracts join date, display name and the avatar image
// URL from a profile page snapshot. Missing pieces stay empty; the header is
// best-effort metadata and never fails a run.
func parseProfileHeader(pageHTML string) (types.ProfileMeta, string) {
	var meta types.ProfileMeta

	doc, err := htmlquery.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return meta, ""
	}

	if n := htmlquery.FindOne(doc, xpathJoined); n != nil {
		meta.JoinedDate = strings.TrimSpace(strings.TrimPrefix(htmlquery.InnerText(n), "Joined"))
	}
	if n := htmlquery.FindOne(doc, xpathDisplayName); n != nil {
		meta.DisplayName = strings.TrimSpace(htmlquery.InnerText(n))
	}

	return meta, avatarSrc(doc)
}

// avatarSrc finds the profile image URL, preferring the photo-link variant
// over the generic avatar container.
func avatarSrc(doc *html.Node) string {
	if n := htmlquery.FindOne(doc, xpathAvatar); n != nil {
		return htmlquery.SelectAttr(n, "src")
	}
	if n := htmlquery.FindOne(doc, xpathAvatarAlt); n != nil {
		return htmlquery.SelectAttr(n, "src")
	}
	return ""
}
