package fetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/propstream/listing-scrape-worker/config"
)

// BrowserTransport renders documents with headless chrome. The browser
// allocator is the render context: it is created lazily for the current
// session and torn down on Reset so a rotated identity never reuses the old
// browser profile.
type BrowserTransport struct {
	cfg         *config.FetchConfig
	log         *slog.Logger
	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	proxy       string
}

func NewBrowserTransport(cfg *config.FetchConfig, log *slog.Logger) *BrowserTransport {
	resolved := *cfg
	if resolved.FetchTimeout <= 0 {
		resolved.FetchTimeout = defaultFetchTimeout
	}
	return &BrowserTransport{cfg: &resolved, log: log}
}

func (t *BrowserTransport) Name() string { return "browser" }

func (t *BrowserTransport) Fetch(ctx context.Context, req *Request) (int, string, error) {
	allocCtx := t.allocator(req.Proxy)

	tCtx, cancelTCtx := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancelTCtx()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	// Apply the deadline to every chromedp operation below.
	runCtx, cancelRun := context.WithCancel(browserCtx)
	defer cancelRun()
	go func() {
		<-tCtx.Done()
		cancelRun()
	}()

	statusCode := 0
	currentURL := req.URL
	chromedp.ListenTarget(runCtx, func(event interface{}) {
		switch ev := event.(type) {
		case *network.EventResponseReceived:
			if ev.Response.URL == currentURL {
				statusCode = int(ev.Response.Status)
			}
		case *network.EventRequestWillBeSent:
			if ev.RedirectResponse != nil {
				currentURL = ev.Request.URL
				t.log.Debug("redirected.", slog.String("url", ev.RedirectResponse.URL))
			}
		}
	})

	headers := make(map[string]interface{}, len(req.Session.Headers)+2)
	for k, v := range req.Session.Headers {
		headers[k] = v
	}
	headers["User-Agent"] = req.Session.UserAgent
	if req.Referer != "" {
		headers["Referer"] = req.Referer
	}

	var body string
	err := chromedp.Run(runCtx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(headers),
			enableLifeCycleEvents(),
			navigateAndWaitFor(req.URL, "networkIdle"),
		},
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			body, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return statusCode, "", err
	}
	if statusCode == 0 {
		statusCode = 200
	}

	return statusCode, body, nil
}

// Reset discards the render context. The next Fetch builds a fresh allocator,
// so rotation gives the browser a clean profile along with the new egress.
func (t *BrowserTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allocCancel != nil {
		t.allocCancel()
		t.allocCtx = nil
		t.allocCancel = nil
	}
}

func (t *BrowserTransport) Close() {
	t.Reset()
}

func (t *BrowserTransport) allocator(proxy string) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allocCtx != nil && t.proxy == proxy {
		return t.allocCtx
	}
	if t.allocCancel != nil {
		t.allocCancel()
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	t.allocCtx, t.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	t.proxy = proxy

	return t.allocCtx
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
