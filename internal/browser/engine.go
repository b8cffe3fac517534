package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/stealth"

	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

// Session is one isolated automation session. Scripts passed to Evaluate are
// JavaScript function expressions taking no arguments; a null result comes
// back as "".
type Session interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (string, error)
	Humanize(ctx context.Context) error
	StorageState(ctx context.Context) (*sessions.State, error)
	Close() error
}

// Engine starts sessions seeded with a stored session state.
type Engine interface {
	Name() string
	NewSession(ctx context.Context, state *sessions.State) (Session, error)
}

type Options struct {
	Headless          bool
	NavigationTimeout time.Duration
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	AcceptLanguage    string
	Locale            string
	TimezoneID        string
}

func DefaultOptions() Options {
	return Options{
		Headless:          true,
		NavigationTimeout: 40 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:     1366,
		ViewportHeight:    768,
		AcceptLanguage:    "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
		Locale:            "pt-BR",
		TimezoneID:        "America/Sao_Paulo",
	}
}

// NewEngine returns the engine registered under name.
func NewEngine(name string, opts Options) (Engine, error) {
	switch name {
	case "playwright", "":
		return NewPlaywrightEngine(opts), nil
	case "chromedp":
		return NewChromedpEngine(opts), nil
	}
	return nil, fmt.Errorf("unknown browser engine %q", name)
}

// maskScript runs before any page script. It layers explicit overrides for
// the navigator properties challenge scripts inspect on top of the stealth
// evasions.
func maskScript(locale string) string {
	return stealth.JS + fmt.Sprintf(`
;(() => {
	Object.defineProperty(Navigator.prototype, "webdriver", { get: () => undefined });
	Object.defineProperty(navigator, "languages", { get: () => [%q, "pt", "en-US", "en"] });
	Object.defineProperty(navigator, "plugins", { get: () => [1, 2, 3, 4, 5].map(i => ({ name: "Plugin " + i })) });
	window.chrome = window.chrome || { runtime: {} };
})();`, locale)
}

// launchArgs are shared by both Chromium engines.
var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--disable-setuid-sandbox",
}

// humanPath is the pointer route used to simulate a visitor.
var humanPath = [][2]float64{{120, 140}, {340, 260}, {560, 330}, {720, 410}}

const scrollScript = `() => { window.scrollBy(0, 200 + Math.random() * 400); return ""; }`
