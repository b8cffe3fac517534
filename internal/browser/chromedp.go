package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

// ChromedpEngine drives a local Chrome over the DevTools protocol.
type ChromedpEngine struct {
	opts Options
}

func NewChromedpEngine(opts Options) *ChromedpEngine {
	return &ChromedpEngine{opts: opts}
}

func (e *ChromedpEngine) Name() string { return "chromedp" }

type chromedpSession struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        Options
}

// localStorageRestore replays stored local storage for the origin being
// loaded. %s is a JSON object of origin to [name, value] pairs.
const localStorageRestore = `;(() => {
	const data = %s;
	const items = data[location.origin];
	if (!items) return;
	for (const [k, v] of items) { try { localStorage.setItem(k, v); } catch (e) {} }
})();`

const localStorageDump = `() => JSON.stringify({ origin: location.origin, items: Object.entries(localStorage) })`

func (e *ChromedpEngine) NewSession(ctx context.Context, state *sessions.State) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(e.opts.UserAgent),
		chromedp.WindowSize(e.opts.ViewportWidth, e.opts.ViewportHeight),
		chromedp.Flag("lang", e.opts.Locale),
	)

	// the session outlives the request context; Close releases it
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	s := &chromedpSession{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc, opts: e.opts}

	// start the browser on the tab itself so later per-call timeouts never
	// tear it down
	if err := chromedp.Run(tab); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	init := maskScript(e.opts.Locale)
	if restore := restoreScript(state); restore != "" {
		init += restore
	}

	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": e.opts.AcceptLanguage}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(init).Do(ctx)
			return err
		}),
	}
	if state != nil {
		for _, c := range state.Cookies {
			set := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				set = set.WithExpires(&expires)
			}
			actions = append(actions, set)
		}
	}

	if err := s.run(ctx, e.opts.NavigationTimeout, actions...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start chrome session: %w", err)
	}
	return s, nil
}

func restoreScript(state *sessions.State) string {
	if state == nil || len(state.Origins) == 0 {
		return ""
	}
	data := make(map[string][][2]string, len(state.Origins))
	for _, o := range state.Origins {
		for _, item := range o.LocalStorage {
			data[o.Origin] = append(data[o.Origin], [2]string{item.Name, item.Value})
		}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(localStorageRestore, encoded)
}

// run executes actions on the tab, bounded by d and cancelled with ctx.
func (s *chromedpSession) run(ctx context.Context, d time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeoutFor(ctx, d))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.opts.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *chromedpSession) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, 5*time.Second, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to get location: %w", err)
	}
	return loc, nil
}

func (s *chromedpSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, 5*time.Second, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to get page title: %w", err)
	}
	return title, nil
}

func (s *chromedpSession) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 10*time.Second, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, script string) (string, error) {
	var out string
	expr := fmt.Sprintf(`(() => { const r = (%s)(); return r == null ? "" : String(r); })()`, script)
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(expr, &out)); err != nil {
		return "", fmt.Errorf("failed to evaluate script: %w", err)
	}
	return out, nil
}

func (s *chromedpSession) Humanize(ctx context.Context) error {
	for i, p := range humanPath {
		if err := s.run(ctx, 5*time.Second, chromedp.MouseEvent(input.MouseMoved, p[0], p[1])); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := sleepCtx(ctx, time.Duration(200+i*100)*time.Millisecond); err != nil {
			return err
		}
	}
	if _, err := s.Evaluate(ctx, scrollScript); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return sleepCtx(ctx, time.Second)
}

func (s *chromedpSession) StorageState(ctx context.Context) (*sessions.State, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, 5*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	state := &sessions.State{}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, sessions.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}

	raw, err := s.Evaluate(ctx, localStorageDump)
	if err == nil && raw != "" {
		var dump struct {
			Origin string      `json:"origin"`
			Items  [][2]string `json:"items"`
		}
		if json.Unmarshal([]byte(raw), &dump) == nil && len(dump.Items) > 0 {
			origin := sessions.Origin{Origin: dump.Origin}
			for _, item := range dump.Items {
				origin.LocalStorage = append(origin.LocalStorage, sessions.StorageItem{Name: item[0], Value: item[1]})
			}
			state.Origins = append(state.Origins, origin)
		}
	}
	return state, nil
}

func (s *chromedpSession) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}
