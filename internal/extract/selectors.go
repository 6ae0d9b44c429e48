package extract

// CSS selectors for the X.com feed layout. The layout carries stable
// data-testid markers; everything else in the markup is obfuscated and
// reshuffles between deployments.
const (
	SelectorItem          = `article[data-testid="tweet"]`
	selectorSocialContext = `[data-testid="socialContext"]`
	selectorByline        = `[data-testid="User-Name"] a[href]`
	selectorTime          = `time`
	selectorText          = `[data-testid="tweetText"]`
	selectorLike          = `[data-testid="like"]`
	selectorShare         = `[data-testid="retweet"]`
	selectorAnalytics     = `a[href*="/analytics"]`
	selectorActionGroup   = `[role="group"] div[dir="ltr"]`
	selectorPermalink     = `a[href*="/status/"]`
	selectorMedia         = `[data-testid="tweetPhoto"], [data-testid="videoPlayer"]`
)

// Social-context annotations that mark an item as not plainly authored.
var reshareMarkers = []string{"Retweeted", "Retweet", "reposted"}

const pinnedMarker = "Pinned"
