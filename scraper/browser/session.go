package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"redfin-tracker/models"
	"redfin-tracker/utils"
)

// hideWebdriver runs before any page script so navigator.webdriver reads as
// a regular browser.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// DriverInitializationError means the browser could not be started. The
// current job aborts; the process keeps running.
type DriverInitializationError struct {
	Binary string
	Err    error
}

func (e *DriverInitializationError) Error() string {
	bin := e.Binary
	if bin == "" {
		bin = "default chrome"
	}
	return fmt.Sprintf("browser: start %s: %v", bin, e.Err)
}

func (e *DriverInitializationError) Unwrap() error {
	return e.Err
}

// RowParser turns the rendered page into raw observations.
type RowParser interface {
	ParseRows(html, pageURL string) ([]models.Observation, error)
}

// Session is one acquired browser.
type Session interface {
	Navigate(url string) error
	Wait() error
	ExtractRawRows() ([]models.Observation, error)
	Release()
}

// Provider hands out sessions.
type Provider interface {
	Acquire(ctx context.Context) (Session, error)
}

// WithSession acquires a session, runs fn and releases the session on every
// exit path, panics included.
func WithSession(ctx context.Context, p Provider, fn func(s Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release()
	return fn(s)
}

// Options configures how browsers are launched.
type Options struct {
	Headless           bool
	SuppressAutomation bool
	ChromeBin          string
	WaitMin            time.Duration
	WaitMax            time.Duration
}

// Manager launches chromedp-backed sessions.
type Manager struct {
	opts       Options
	identities IdentityProvider
	parser     RowParser
	logger     *utils.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewManager(opts Options, identities IdentityProvider, parser RowParser, logger *utils.Logger) *Manager {
	return &Manager{
		opts:       opts,
		identities: identities,
		parser:     parser,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire starts a fresh headless browser with a newly drawn identity. The
// browser lives until Release or until ctx is done.
func (m *Manager) Acquire(ctx context.Context) (Session, error) {
	id := m.identities.NextIdentity()

	chromeBin := m.opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(id.UserAgent),
	)
	if m.opts.SuppressAutomation {
		opts = append(opts,
			chromedp.Flag("enable-automation", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
	}
	if id.Profile != "" {
		opts = append(opts, chromedp.UserDataDir(id.Profile))
	}
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	start := []chromedp.Action{}
	if m.opts.SuppressAutomation {
		start = append(start, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}))
	}
	// Run with no navigation launches the browser process.
	if err := chromedp.Run(browserCtx, start...); err != nil {
		cancelBrowser()
		cancelAlloc()
		m.logger.Error("[browser] Session acquire failed (binary %q): %v", chromeBin, err)
		return nil, &DriverInitializationError{Binary: chromeBin, Err: err}
	}

	m.rngMu.Lock()
	wait := jitter(m.rng, m.opts.WaitMin, m.opts.WaitMax)
	m.rngMu.Unlock()

	m.logger.Info("[browser] Session started (headless=%t, agent=%q)", m.opts.Headless, id.UserAgent)
	return &chromeSession{
		ctx:      browserCtx,
		cancel:   func() { cancelBrowser(); cancelAlloc() },
		parser:   m.parser,
		wait:     wait,
		identity: id,
		logger:   m.logger,
	}, nil
}

type chromeSession struct {
	ctx      context.Context
	cancel   func()
	parser   RowParser
	wait     time.Duration
	identity Identity
	logger   *utils.Logger

	pageURL string
	once    sync.Once
}

func (s *chromeSession) Navigate(url string) error {
	err := chromedp.Run(s.ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&s.pageURL),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Wait pauses for the interval drawn at acquire time, emulating human pacing.
func (s *chromeSession) Wait() error {
	s.logger.Debug("[browser] Waiting %v", s.wait)
	select {
	case <-time.After(s.wait):
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *chromeSession) ExtractRawRows() ([]models.Observation, error) {
	var html string
	err := chromedp.Run(s.ctx,
		// Scroll so lazily rendered cards are in the DOM
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	return s.parser.ParseRows(html, s.pageURL)
}

func (s *chromeSession) Release() {
	s.once.Do(func() {
		s.cancel()
		s.logger.Info("[browser] Session released")
	})
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
