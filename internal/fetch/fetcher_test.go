package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/propstream/listing-scrape-worker/config"
	"github.com/propstream/listing-scrape-worker/internal/model"
	"github.com/propstream/listing-scrape-worker/internal/session"
)

type scriptedResponse struct {
	statusCode int
	body       string
	err        error
}

type scriptedTransport struct {
	responses []scriptedResponse
	calls     int
	resets    int
	sessions  []string
}

func (t *scriptedTransport) Name() string { return "scripted" }

func (t *scriptedTransport) Fetch(_ context.Context, req *Request) (int, string, error) {
	t.sessions = append(t.sessions, req.Session.ID)
	idx := t.calls
	if idx >= len(t.responses) {
		idx = len(t.responses) - 1
	}
	t.calls++
	r := t.responses[idx]
	return r.statusCode, r.body, r.err
}

func (t *scriptedTransport) Reset() { t.resets++ }

func (t *scriptedTransport) Close() {}

type noProxy struct{}

func (noProxy) Next() string { return "" }

func testFetcher(t *scriptedTransport) *Fetcher {
	cfg := &config.FetchConfig{
		RetryAttempts: 4,
		RetryDelay:    time.Millisecond,
		FetchTimeout:  time.Second,
		ChallengePoll: 5 * time.Millisecond,
		ChallengeWait: 50 * time.Millisecond,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFetcher(cfg, session.New(), t, t, noProxy{}, log)
}

func script(responses ...scriptedResponse) *scriptedTransport {
	return &scriptedTransport{responses: responses}
}

func TestBlockedTwiceThenSuccess(t *testing.T) {
	transport := script(
		scriptedResponse{statusCode: 403},
		scriptedResponse{statusCode: 429},
		scriptedResponse{statusCode: 200, body: "<html>ok</html>"},
		scriptedResponse{statusCode: 200, body: "should not be reached"},
	)
	f := testFetcher(transport)

	outcome, err := f.Fetch(context.Background(), "https://example.com/find", Options{Kind: model.Document})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != model.Success {
		t.Errorf("expected success, got %s", outcome.Status)
	}
	if outcome.Body != "<html>ok</html>" {
		t.Errorf("unexpected body %q", outcome.Body)
	}
	if f.Rotations() != 2 {
		t.Errorf("expected 2 rotations, got %d", f.Rotations())
	}
	if transport.resets != 2 {
		t.Errorf("expected the render context to be reset on every rotation, got %d", transport.resets)
	}
	if transport.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", transport.calls)
	}
}

func TestRotationChangesIdentityAcrossBlocks(t *testing.T) {
	transport := script(
		scriptedResponse{statusCode: 403},
		scriptedResponse{statusCode: 403},
		scriptedResponse{statusCode: 200, body: "ok"},
	)
	f := testFetcher(transport)

	if _, err := f.Fetch(context.Background(), "https://example.com", Options{Kind: model.Document}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.sessions) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(transport.sessions))
	}
	if transport.sessions[2] == transport.sessions[0] {
		t.Error("identity after the second rotation matches the identity before the first")
	}
}

func TestServerErrorRetriesWithoutRotation(t *testing.T) {
	transport := script(
		scriptedResponse{statusCode: 503},
		scriptedResponse{statusCode: 200, body: "ok"},
	)
	f := testFetcher(transport)

	outcome, err := f.Fetch(context.Background(), "https://example.com", Options{Kind: model.Document})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != model.Success {
		t.Errorf("expected success, got %s", outcome.Status)
	}
	if f.Rotations() != 0 {
		t.Errorf("5xx must not rotate the session, got %d rotations", f.Rotations())
	}
}

func TestTransportFailureRotatesAndRetries(t *testing.T) {
	transport := script(
		scriptedResponse{err: errors.New("connection reset")},
		scriptedResponse{statusCode: 200, body: "ok"},
	)
	f := testFetcher(transport)

	outcome, err := f.Fetch(context.Background(), "https://example.com", Options{Kind: model.Document})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != model.Success {
		t.Errorf("expected success, got %s", outcome.Status)
	}
	if f.Rotations() != 1 {
		t.Errorf("expected 1 rotation, got %d", f.Rotations())
	}
}

func TestExhaustedRetries(t *testing.T) {
	transport := script(scriptedResponse{statusCode: 403})
	f := testFetcher(transport)

	outcome, err := f.Fetch(context.Background(), "https://example.com", Options{Kind: model.Document})
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("expected ErrExhaustedRetries, got %v", err)
	}
	if outcome.Status == model.Success {
		t.Error("exhausted fetch must not report success")
	}
	if transport.calls != 4 {
		t.Errorf("expected the whole retry budget to be spent, got %d attempts", transport.calls)
	}
}

func TestChallengeResolves(t *testing.T) {
	transport := script(
		scriptedResponse{statusCode: 200, body: "Just a moment..."},
		scriptedResponse{statusCode: 200, body: "<html>real content</html>"},
	)
	f := testFetcher(transport)

	outcome, err := f.Fetch(context.Background(), "https://example.com", Options{Kind: model.Document})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != model.Success {
		t.Errorf("expected success after the challenge cleared, got %s", outcome.Status)
	}
	if outcome.Body != "<html>real content</html>" {
		t.Errorf("unexpected body %q", outcome.Body)
	}
	if f.Rotations() != 0 {
		t.Errorf("a resolved challenge must not rotate, got %d rotations", f.Rotations())
	}
}

func TestDataKindSkipsChallengeDetection(t *testing.T) {
	// A data payload may legitimately contain challenge-like text.
	transport := script(scriptedResponse{statusCode: 200, body: `{"note":"Just a moment..."}`})
	f := testFetcher(transport)

	outcome, err := f.Fetch(context.Background(), "https://example.com/api", Options{Kind: model.Data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != model.Success {
		t.Errorf("expected success for a data endpoint, got %s", outcome.Status)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		kind       model.ContentKind
		want       model.FetchStatus
	}{
		{"forbidden", 403, "", model.Document, model.Blocked},
		{"rate limited", 429, "", model.Document, model.Blocked},
		{"bad gateway", 502, "", model.Document, model.ServerError},
		{"challenge page", 200, "Checking your browser", model.Document, model.ChallengePending},
		{"plain success", 200, "<html></html>", model.Document, model.Success},
		{"not found is success-shaped", 404, "", model.Document, model.Success},
	}
	for _, tc := range tests {
		if got := classify(tc.statusCode, tc.body, tc.kind); got != tc.want {
			t.Errorf("%s: classify(%d) = %s, want %s", tc.name, tc.statusCode, got, tc.want)
		}
	}
}

func TestChallengeUnresolvedRotatesAndRetries(t *testing.T) {
	transport := script(
		scriptedResponse{statusCode: 200, body: "Just a moment..."},
		scriptedResponse{statusCode: 200, body: "Checking your browser"},
		scriptedResponse{statusCode: 200, body: "<html>real content</html>"},
	)
	// A challenge window shorter than the poll interval allows exactly one
	// poll before the window closes.
	cfg := &config.FetchConfig{
		RetryAttempts: 4,
		RetryDelay:    time.Millisecond,
		FetchTimeout:  time.Second,
		ChallengePoll: 10 * time.Millisecond,
		ChallengeWait: 5 * time.Millisecond,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFetcher(cfg, session.New(), transport, transport, noProxy{}, log)

	outcome, err := f.Fetch(context.Background(), "https://example.com", Options{Kind: model.Document})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != model.Success {
		t.Errorf("expected success on the rotated retry, got %s", outcome.Status)
	}
	if f.Rotations() != 1 {
		t.Errorf("an unresolved challenge must rotate the identity, got %d rotations", f.Rotations())
	}
	if transport.resets != 1 {
		t.Errorf("expected the render context to be reset, got %d resets", transport.resets)
	}
	if transport.calls != 3 {
		t.Errorf("expected attempt, one poll, then the retry, got %d calls", transport.calls)
	}
}

func TestNewFetcherLeavesConfigUntouched(t *testing.T) {
	cfg := &config.FetchConfig{}
	f := testTransportFetcher(cfg)
	defer f.Close()

	if cfg.RetryAttempts != 0 || cfg.RetryDelay != 0 || cfg.FetchTimeout != 0 ||
		cfg.ChallengePoll != 0 || cfg.ChallengeWait != 0 {
		t.Errorf("constructing a fetcher changed the shared config: %+v", cfg)
	}
}

func testTransportFetcher(cfg *config.FetchConfig) *Fetcher {
	transport := script(scriptedResponse{statusCode: 200, body: "ok"})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFetcher(cfg, session.New(), transport, transport, noProxy{}, log)
}

func TestCookieHeaderJoinsAllCookies(t *testing.T) {
	cookies := map[string]string{
		"session_id": "abc",
		"consent":    "true",
		"region":     "uk",
	}
	want := "consent=true; region=uk; session_id=abc"
	if got := cookieHeader(cookies); got != want {
		t.Errorf("cookieHeader = %q, want %q", got, want)
	}
}
