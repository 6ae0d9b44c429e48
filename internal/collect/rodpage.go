package collect

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"

	"github.com/feedwrap/feedwrap/internal/extract"
)

// RodFeedPage implements FeedPage over a live browser page. Rendered items
// are snapshotted as outer HTML and re-parsed, so the extractor never touches
// the live DOM.
type RodFeedPage struct {
	page *rod.Page
}

// NewRodFeedPage wraps a rod page as a FeedPage.
func NewRodFeedPage(page *rod.Page) *RodFeedPage {
	return &RodFeedPage{page: page}
}

// Items returns the currently rendered feed items, top to bottom.
func (p *RodFeedPage) Items() ([]*goquery.Selection, error) {
	els, err := p.page.Elements(extract.SelectorItem)
	if err != nil {
		return nil, err
	}

	sels := make([]*goquery.Selection, 0, len(els))
	for _, el := range els {
		html, err := el.HTML()
		if err != nil {
			// Item detached between query and snapshot; it will render
			// again on the next pass.
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		if item := doc.Find(extract.SelectorItem).First(); item.Length() > 0 {
			sels = append(sels, item)
		}
	}
	return sels, nil
}

// Height returns the page's scrollable height.
func (p *RodFeedPage) Height() (int, error) {
	res, err := p.page.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// ScrollToBottom scrolls to the bottom of the document.
func (p *RodFeedPage) ScrollToBottom() error {
	_, err := p.page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

// ScrollBy scrolls vertically by the given offset.
func (p *RodFeedPage) ScrollBy(y int) error {
	_, err := p.page.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, y))
	return err
}
