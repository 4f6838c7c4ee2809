// Package browser drives a Chromium instance over the DevTools protocol with
// go-rod and exposes it as the page surface the posting engine works on.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/config"
	"github.com/shubh-37/x-autoposter/internal/posting"
)

const defaultNavigationTimeout = 45 * time.Second

var _ posting.Browser = (*Session)(nil)

// Session owns one browser process, or a connection to one, and hands out
// isolated pages that carry the account's session cookies.
type Session struct {
	mu       sync.Mutex
	browser  *rod.Browser
	launch   *launcher.Launcher
	cookies  []*proto.NetworkCookieParam
	navTO    time.Duration
	logger   *zap.Logger
	launched bool
}

// Start connects to cfg.ControlURL when set, otherwise launches a local
// browser.
func Start(ctx context.Context, cfg config.BrowserConfig, platform config.PlatformConfig, logger *zap.Logger) (*Session, error) {
	logger = logger.Named("browser")
	s := &Session{navTO: defaultNavigationTimeout, logger: logger}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		s.launch = launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			s.launch = s.launch.Bin(cfg.Bin)
		}
		u, err := s.launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		s.launched = true
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	// Detach from the start context so pages outlive it.
	s.browser = b.Context(context.Background())

	cookies, err := sessionCookies(platform)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.cookies = cookies

	logger.Info("🌐 browser ready", zap.Bool("launched", s.launched), zap.Bool("headless", cfg.Headless))
	return s, nil
}

// NewPage opens a blank page in a fresh incognito context with the session
// cookies installed.
func (s *Session) NewPage(ctx context.Context) (posting.Page, error) {
	s.mu.Lock()
	b := s.browser
	s.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser session closed")
	}

	incognito, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("open incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	if len(s.cookies) > 0 {
		if err := page.SetCookies(s.cookies); err != nil {
			page.Close()
			incognito.Close()
			return nil, fmt.Errorf("install session cookies: %w", err)
		}
	}
	return &Page{page: page.Context(context.Background()), owner: incognito.Context(context.Background()), navTO: s.navTO, logger: s.logger}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	s.kill()
	return err
}

func (s *Session) kill() {
	if s.launched && s.launch != nil {
		s.launch.Kill()
		s.launched = false
	}
}

// sessionCookies builds the auth cookies for the platform's domain. Without
// an auth token the pages stay logged out.
func sessionCookies(cfg config.PlatformConfig) ([]*proto.NetworkCookieParam, error) {
	if cfg.AuthToken == "" {
		return nil, nil
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid platform base URL %q", cfg.BaseURL)
	}
	domain := "." + strings.TrimPrefix(u.Hostname(), "www.")

	cookies := []*proto.NetworkCookieParam{{
		Name:     "auth_token",
		Value:    cfg.AuthToken,
		Domain:   domain,
		Path:     "/",
		HTTPOnly: true,
		Secure:   true,
	}}
	if cfg.CSRFToken != "" {
		cookies = append(cookies, &proto.NetworkCookieParam{
			Name:   "ct0",
			Value:  cfg.CSRFToken,
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	return cookies, nil
}
