package fetch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/propstream/listing-scrape-worker/config"
	"github.com/propstream/listing-scrape-worker/internal/model"
	"github.com/propstream/listing-scrape-worker/internal/proxy"
	"github.com/propstream/listing-scrape-worker/internal/session"
)

// ErrExhaustedRetries means the url could not be obtained within the retry
// budget. The walker treats it as "move on", never as a run abort.
var ErrExhaustedRetries = errors.New("all fetch attempts exhausted")

// Fetcher owns the session, the render context and the current egress endpoint
// for the duration of each call. Documents go through the configured renderer
// transport, data endpoints always through the plain one.
type Fetcher struct {
	session   *session.Session
	renderer  Transport
	plain     Transport
	proxies   proxy.Supplier
	cfg       *config.FetchConfig
	log       *slog.Logger
	egress    string
	rotations int
}

// Options for a single Fetch call. Attempts overrides the configured retry
// budget when positive; detail fetches use a smaller one.
type Options struct {
	Kind     model.ContentKind
	Referer  string
	Attempts int
}

func NewFetcher(cfg *config.FetchConfig, sess *session.Session, renderer, plain Transport,
	proxies proxy.Supplier, log *slog.Logger) *Fetcher {
	// The config is shared with the walker; apply defaults to a copy.
	resolved := *cfg
	if resolved.RetryAttempts <= 0 {
		resolved.RetryAttempts = 4
	}
	if resolved.RetryDelay <= 0 {
		resolved.RetryDelay = 500 * time.Millisecond
	}
	if resolved.FetchTimeout <= 0 {
		resolved.FetchTimeout = defaultFetchTimeout
	}
	if resolved.ChallengePoll <= 0 {
		resolved.ChallengePoll = 2 * time.Second
	}
	if resolved.ChallengeWait <= 0 {
		resolved.ChallengeWait = 15 * time.Second
	}
	return &Fetcher{
		session:  sess,
		renderer: renderer,
		plain:    plain,
		proxies:  proxies,
		cfg:      &resolved,
		log:      log,
		egress:   proxies.Next(),
	}
}

// Fetch runs the bounded retry state machine: attempt, classify, recover
// (rotate / back off / poll the challenge) and reattempt until the budget is
// spent. A nil error means outcome.Status is Success and Body is usable.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) (*model.FetchOutcome, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = f.cfg.RetryAttempts
	}

	outcome := &model.FetchOutcome{Status: model.TransportFailure}
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := f.backoff(ctx, attempt, outcome.Status); err != nil {
				return outcome, err
			}
		}

		statusCode, body, err := f.attempt(ctx, url, opts)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			f.log.Warn("transport failure.", slog.String("url", url), slog.String("err", err.Error()))
			outcome.Status = model.TransportFailure
			f.rotate()
			continue
		}

		status := classify(statusCode, body, opts.Kind)
		outcome.Status = status
		outcome.StatusCode = statusCode

		switch status {
		case model.Blocked:
			f.log.Warn("blocked.", slog.String("url", url), slog.Int("status_code", statusCode),
				slog.Int("attempts left", attempts-attempt))
			f.rotate()
		case model.ServerError:
			f.log.Warn("upstream server error.", slog.String("url", url),
				slog.Int("status_code", statusCode))
		case model.ChallengePending:
			resolved, resolvedBody, resolvedCode := f.awaitChallenge(ctx, url, opts)
			if resolved {
				outcome.Status = model.Success
				outcome.StatusCode = resolvedCode
				outcome.Body = resolvedBody
				return outcome, nil
			}
			f.log.Warn("challenge not resolved. treating as blocked.", slog.String("url", url))
			outcome.Status = model.Blocked
			f.rotate()
		case model.Success:
			outcome.Body = body
			return outcome, nil
		}
	}

	f.log.Error("url is unobtainable.", slog.String("url", url),
		slog.String("last status", outcome.Status.String()))
	return outcome, ErrExhaustedRetries
}

// Rotations reports how many times the identity has been replaced.
func (f *Fetcher) Rotations() int {
	return f.rotations
}

func (f *Fetcher) Close() {
	f.renderer.Close()
	if f.plain != f.renderer {
		f.plain.Close()
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string, opts Options) (int, string, error) {
	req := &Request{
		URL:     url,
		Kind:    opts.Kind,
		Referer: opts.Referer,
		Session: f.session,
		Proxy:   f.egress,
	}
	t := f.renderer
	if opts.Kind == model.Data {
		t = f.plain
	}
	return t.Fetch(ctx, req)
}

// rotate replaces the whole identity: session fields, render context and
// egress endpoint. Downstream references to the session observe the new one.
func (f *Fetcher) rotate() {
	f.session.Rotate()
	f.renderer.Reset()
	f.egress = f.proxies.Next()
	f.rotations++
	f.log.Info("session rotated.", slog.String("session", f.session.ID), slog.Int("rotations", f.rotations))
}

// awaitChallenge polls the page until the interstitial markers disappear or
// the challenge window closes.
func (f *Fetcher) awaitChallenge(ctx context.Context, url string, opts Options) (bool, string, int) {
	deadline := time.Now().Add(f.cfg.ChallengeWait)
	for time.Now().Before(deadline) {
		if err := sleep(ctx, f.cfg.ChallengePoll); err != nil {
			return false, "", 0
		}
		statusCode, body, err := f.attempt(ctx, url, opts)
		if err != nil {
			continue
		}
		if classify(statusCode, body, opts.Kind) == model.Success {
			return true, body, statusCode
		}
	}
	return false, "", 0
}

// backoff waits before a reattempt: a fixed short delay after an upstream 5xx,
// otherwise a linearly growing delay with a little jitter.
func (f *Fetcher) backoff(ctx context.Context, attempt int, last model.FetchStatus) error {
	delay := f.cfg.RetryDelay
	if last != model.ServerError {
		delay = time.Duration(attempt-1) * f.cfg.RetryDelay
		delay += time.Duration(rand.Int63n(int64(f.cfg.RetryDelay) / 2))
	}
	return sleep(ctx, delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
