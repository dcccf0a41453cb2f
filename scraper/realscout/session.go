package realscout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"listing-sync/config"
	"listing-sync/models"
	"listing-sync/utils"
)

var (
	// ErrUnavailable means the listing was removed or the URL is wrong.
	ErrUnavailable = errors.New("realscout: listing unavailable")
	// ErrInvalidURL is returned before any navigation happens.
	ErrInvalidURL = errors.New("realscout: invalid url")
)

const (
	signInTimeout = 60 * time.Second
	detailTimeout = 10 * time.Second
	pageTimeout   = 60 * time.Second
)

// Session is one signed-in browser used for every page of a run.
type Session struct {
	cfg    *config.Config
	logger *utils.Logger
	retry  *utils.RetryConfig

	browser     context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
}

// NewSession prepares a session. Start must be called before Fetch.
func NewSession(cfg *config.Config, logger *utils.Logger) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   3 * time.Second,
			Logger:      logger,
			Retryable: func(err error) bool {
				return !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrInvalidURL) &&
					!errors.Is(err, context.Canceled)
			},
		},
	}
}

// Start launches the browser and signs in.
func (s *Session) Start(ctx context.Context) error {
	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[realscout] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browser, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	s.browser, s.cancelAlloc, s.cancelTab = browser, cancelAlloc, cancelTab

	// The first Run starts the browser; it must not carry a timeout.
	if err := chromedp.Run(browser); err != nil {
		s.Close()
		return fmt.Errorf("realscout: start browser: %w", err)
	}
	if err := s.signIn(ctx); err != nil {
		s.Close()
		return err
	}
	return nil
}

// Source names the site for scraped_source.
func (s *Session) Source() string { return Source }

// Close shuts the browser down.
func (s *Session) Close() {
	if s.cancelTab != nil {
		s.cancelTab()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}

func (s *Session) signIn(ctx context.Context) error {
	s.logger.Info("[realscout] Opening browser and signing in")
	tctx, cancel := s.tab(ctx, signInTimeout)
	defer cancel()

	err := chromedp.Run(tctx,
		chromedp.Navigate(s.cfg.RealscoutSignInURL),
		chromedp.WaitVisible("#email_field", chromedp.ByQuery),
		chromedp.SendKeys("#email_field", s.cfg.RealscoutEmail, chromedp.ByQuery),
		chromedp.SendKeys("#user_password", s.cfg.RealscoutPassword, chromedp.ByQuery),
		chromedp.Click(`[name="commit"]`, chromedp.ByQuery),
		chromedp.Poll(`document.title.includes("My Matches")`, nil, chromedp.WithPollingTimeout(signInTimeout)),
	)
	if err != nil {
		return fmt.Errorf("realscout: sign in failed: %w", err)
	}
	s.logger.Info("[realscout] signed in.")
	return nil
}

// Fetch loads one listing page and extracts its fragment.
func (s *Session) Fetch(ctx context.Context, pageURL string) (models.Fragment, error) {
	if !validURL(pageURL) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, pageURL)
	}

	var html string
	err := s.retry.Do(ctx, "load "+pageURL, func(ctx context.Context, _ int) error {
		var err error
		html, err = s.pageHTML(ctx, pageURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Extract(html)
}

func (s *Session) pageHTML(ctx context.Context, pageURL string) (string, error) {
	tctx, cancel := s.tab(ctx, pageTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(tctx,
		chromedp.Navigate(pageURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("realscout: navigate: %w", err)
	}
	if strings.Contains(html, "Listing unavailable.") {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, pageURL)
	}

	wctx, wcancel := context.WithTimeout(tctx, detailTimeout)
	defer wcancel()
	if err := chromedp.Run(wctx,
		chromedp.WaitReady("#listing-detail", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("realscout: listing page did not load: %w", err)
	}
	return html, nil
}

// tab derives a browser context with a timeout that also ends when ctx does.
func (s *Session) tab(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(s.browser, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
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
