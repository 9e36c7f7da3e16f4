package fetch

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/gocolly/colly"
	"github.com/propstream/listing-scrape-worker/config"
	"github.com/propstream/listing-scrape-worker/internal/model"
)

// HTTPTransport issues plain requests through colly. It serves both document
// pages (when the portal answers without a rendered browser) and the
// supplementary data endpoints, which never need script execution.
type HTTPTransport struct {
	cfg *config.FetchConfig
	log *slog.Logger
}

func NewHTTPTransport(cfg *config.FetchConfig, log *slog.Logger) *HTTPTransport {
	resolved := *cfg
	if resolved.FetchTimeout <= 0 {
		resolved.FetchTimeout = defaultFetchTimeout
	}
	return &HTTPTransport{cfg: &resolved, log: log}
}

func (t *HTTPTransport) Name() string { return "http" }

func (t *HTTPTransport) Fetch(ctx context.Context, req *Request) (int, string, error) {
	c := colly.NewCollector()
	c.SetRequestTimeout(t.cfg.FetchTimeout)
	c.UserAgent = req.Session.UserAgent
	if req.Proxy != "" {
		if err := c.SetProxy(req.Proxy); err != nil {
			t.log.Warn("failed to set proxy. using direct egress.", slog.String("proxy", req.Proxy),
				slog.String("err", err.Error()))
		}
	}

	var statusCode int
	var body string
	var transportErr error

	c.OnRequest(func(r *colly.Request) {
		for k, v := range req.Session.Headers {
			r.Headers.Set(k, v)
		}
		if req.Kind == model.Data {
			r.Headers.Set("Accept", "application/json, text/plain, */*")
		}
		if req.Referer != "" {
			r.Headers.Set("Referer", req.Referer)
		}
		if len(req.Session.Cookies) > 0 {
			r.Headers.Set("Cookie", cookieHeader(req.Session.Cookies))
		}
	})
	c.OnResponse(func(resp *colly.Response) {
		statusCode = resp.StatusCode
		body = string(resp.Body)
	})
	c.OnError(func(resp *colly.Response, err error) {
		// colly reports every non-2xx through OnError; keep the status so the
		// fetcher can classify it, and treat status 0 as a transport failure.
		if resp != nil && resp.StatusCode != 0 {
			statusCode = resp.StatusCode
			body = string(resp.Body)
		} else {
			transportErr = err
		}
	})

	url := req.URL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	if err := c.Visit(url); err != nil && transportErr == nil && statusCode == 0 {
		transportErr = err
	}
	if transportErr != nil {
		return 0, "", transportErr
	}

	return statusCode, body, nil
}

func (t *HTTPTransport) Reset() {}

func (t *HTTPTransport) Close() {}

// cookieHeader renders the whole cookie state as a single header value.
// Setting the header per cookie would keep only the last one.
func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}
