package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/propstream/listing-scrape-worker/internal/model"
	"github.com/propstream/listing-scrape-worker/internal/session"
)

const defaultFetchTimeout = 30 * time.Second

// Request carries everything a transport needs for one attempt.
type Request struct {
	URL     string
	Kind    model.ContentKind
	Referer string
	Session *session.Session
	Proxy   string
}

// Transport issues a single request and reports the raw status and body.
// The browser transport keeps a render context between calls; Reset discards
// it so the next call starts from a clean identity.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, req *Request) (statusCode int, body string, err error)
	Reset()
	Close()
}

// Interstitial verification pages served instead of real content. Presence of
// any marker in a document body means the page is not usable yet.
var challengeMarkers = []string{
	"Just a moment...",
	"Checking your browser",
	"Verifying you are human",
	"cf-browser-verification",
	"challenge-platform",
	"Access to this page has been denied",
	"Please verify you are a human",
}

func isChallengePage(body string) bool {
	for _, marker := range challengeMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// classify maps a transport-level result onto the fetch taxonomy. Transport
// errors are classified by the caller before reaching here.
func classify(statusCode int, body string, kind model.ContentKind) model.FetchStatus {
	switch {
	case statusCode == 403 || statusCode == 429:
		return model.Blocked
	case statusCode >= 500:
		return model.ServerError
	case kind == model.Document && isChallengePage(body):
		return model.ChallengePending
	default:
		return model.Success
	}
}
