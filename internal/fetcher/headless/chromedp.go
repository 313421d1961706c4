// Package headless renders results pages in headless Chrome for catalogs that
// build their listing cards client-side.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const (
	defaultNavTimeout = 25 * time.Second
	defaultCardWait   = 8 * time.Second
	defaultSettle     = 500 * time.Millisecond
	cardPollInterval  = 250 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs; zero means one tab per worker.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// CardSelector marks a rendered listing card. A page where no card shows
	// up within CardWait is returned as is, so the parser sees an empty page.
	CardSelector string
	CardWait     time.Duration
	// Settle is the pause after scrolling to the bottom, for lazy-loaded cards.
	Settle time.Duration
}

// Fetcher implements crawler.PageFetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	tabs        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts a browser allocator. Tabs are opened per fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.CardWait <= 0 {
		cfg.CardWait = defaultCardWait
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	var tabs chan struct{}
	if cfg.MaxParallel > 0 {
		tabs = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL and returns the DOM once the listing cards have
// loaded. Cancellation of ctx only interrupts the wait for a free tab;
// rendering is bounded by NavigationTimeout.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, location string
	if err := chromedp.Run(tabCtx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.awaitCards(),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, url := doc.result(request.URL, location)
	return crawler.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      http.Header{},
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			extra := network.Headers{}
			for key := range headers {
				extra[key] = headers.Get(key)
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// awaitCards polls for CardSelector until it matches or CardWait elapses.
// The last results page legitimately has no cards, so running out of time is
// not an error.
func (f *Fetcher) awaitCards() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.CardSelector == "" {
			return nil
		}
		script := fmt.Sprintf(`document.querySelector(%q) !== null`, f.cfg.CardSelector)
		deadline := time.Now().Add(f.cfg.CardWait)
		for {
			var found bool
			if err := chromedp.Evaluate(script, &found).Do(ctx); err != nil {
				return fmt.Errorf("probe listing cards: %w", err)
			}
			if found || time.Now().After(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cardPollInterval):
			}
		}
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless tab wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.tabs == nil {
		return
	}
	<-f.tabs
}

// documentResponse remembers the status of the main document response.
type documentResponse struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
}

// result falls back to the browser location, then the requested URL. A page
// rendered without a captured document response is treated as 200.
func (d *documentResponse) result(requested, location string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requested
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
