package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

// PlaywrightEngine launches a fresh Chromium through playwright per session.
type PlaywrightEngine struct {
	opts Options
}

func NewPlaywrightEngine(opts Options) *PlaywrightEngine {
	return &PlaywrightEngine{opts: opts}
}

func (e *PlaywrightEngine) Name() string { return "playwright" }

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	opts    Options
}

func (e *PlaywrightEngine) NewSession(ctx context.Context, state *sessions.State) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	s := &playwrightSession{pw: pw, opts: e.opts}

	s.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.opts.Headless),
		Args:     append(append([]string{}, launchArgs...), fmt.Sprintf("--window-size=%d,%d", e.opts.ViewportWidth, e.opts.ViewportHeight)),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(e.opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(e.opts.Locale),
		TimezoneId:        playwright.String(e.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  e.opts.ViewportWidth,
			Height: e.opts.ViewportHeight,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": e.opts.AcceptLanguage,
		},
	}
	if !state.IsEmpty() {
		contextOpts.StorageState = toPlaywrightState(state)
	}

	s.context, err = s.browser.NewContext(contextOpts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := s.context.AddInitScript(playwright.Script{Content: playwright.String(maskScript(e.opts.Locale))}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to install stealth script: %w", err)
	}

	s.page, err = s.context.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	s.page.SetDefaultTimeout(float64(e.opts.NavigationTimeout.Milliseconds()))

	return s, nil
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeoutFor(ctx, s.opts.NavigationTimeout).Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *playwrightSession) URL(ctx context.Context) (string, error) {
	return s.page.URL(), nil
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := s.page.Title()
	if err != nil {
		return "", fmt.Errorf("failed to get page title: %w", err)
	}
	return title, nil
}

func (s *playwrightSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

func (s *playwrightSession) Evaluate(ctx context.Context, script string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := s.page.Evaluate(script)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate script: %w", err)
	}
	if v == nil {
		return "", nil
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	return fmt.Sprint(v), nil
}

// Humanize moves the pointer along a path and scrolls.
func (s *playwrightSession) Humanize(ctx context.Context) error {
	for i, p := range humanPath {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.page.Mouse().Move(p[0], p[1], playwright.MouseMoveOptions{Steps: playwright.Int(8)}); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := sleepCtx(ctx, time.Duration(200+i*100)*time.Millisecond); err != nil {
			return err
		}
	}
	if _, err := s.page.Evaluate(scrollScript); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return sleepCtx(ctx, time.Second)
}

func (s *playwrightSession) StorageState(ctx context.Context) (*sessions.State, error) {
	st, err := s.context.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}

	state := &sessions.State{}
	for _, c := range st.Cookies {
		state.Cookies = append(state.Cookies, sessions.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		})
	}
	for _, o := range st.Origins {
		origin := sessions.Origin{Origin: o.Origin}
		for _, item := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, sessions.StorageItem{Name: item.Name, Value: item.Value})
		}
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

// Close tears down the page, context, browser and driver, in that order.
func (s *playwrightSession) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

func toPlaywrightState(state *sessions.State) *playwright.OptionalStorageState {
	out := &playwright.OptionalStorageState{}
	for _, c := range state.Cookies {
		cookie := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			cookie.Expires = playwright.Float(c.Expires)
		}
		out.Cookies = append(out.Cookies, cookie)
	}
	for _, o := range state.Origins {
		origin := playwright.Origin{Origin: o.Origin}
		for _, item := range o.LocalStorage {
			origin.LocalStorage = append(origin.LocalStorage, playwright.NameValue{Name: item.Name, Value: item.Value})
		}
		out.Origins = append(out.Origins, origin)
	}
	return out
}

// timeoutFor caps d by the time left on ctx.
func timeoutFor(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			return left
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
