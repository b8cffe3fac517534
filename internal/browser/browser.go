package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/marketplace"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

type FallbackOptions struct {
	NavigationTimeout time.Duration
	ChallengeWait     time.Duration
	ChallengePoll     time.Duration
	WarmUp            bool
}

// Fallback renders product pages in a real browser when static fetching and
// marketplace APIs fail.
type Fallback struct {
	engine    Engine
	extractor *extract.Extractor
	sessions  sessions.Store
	opts      FallbackOptions
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

func NewFallback(engine Engine, extractor *extract.Extractor, store sessions.Store, opts FallbackOptions, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = extract.New(logger)
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 40 * time.Second
	}
	if opts.ChallengePoll <= 0 {
		opts.ChallengePoll = time.Second
	}
	return &Fallback{
		engine:    engine,
		extractor: extractor,
		sessions:  store,
		opts:      opts,
		sleep:     sleepCtx,
		logger:    logger.With("component", "browser", "engine", engine.Name()),
	}
}

// Fetch opens a session, gets past any challenge and extracts a candidate
// from the rendered page. The session is always closed; its state is stored
// only when a candidate was found.
func (f *Fallback) Fetch(ctx context.Context, mp models.Marketplace, targetURL string) (candidate *models.Candidate, err error) {
	state := &sessions.State{}
	if f.sessions != nil {
		if loaded, loadErr := f.sessions.Load(mp); loadErr != nil {
			f.logger.Warn("failed to load session", "marketplace", mp, "error", loadErr)
		} else {
			state = loaded
		}
	}

	session, err := f.engine.NewSession(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			f.logger.Warn("failed to close browser session", "error", closeErr)
		}
	}()

	home := marketplace.Lookup(mp).HomeURL
	warmed := false
	if f.opts.WarmUp && home != "" {
		f.warmUp(ctx, session, home)
		warmed = true
	}

	if err := session.Navigate(ctx, targetURL); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}

	candidate, err = f.extractFrom(ctx, session, mp, targetURL)
	if err != nil || quality.Inspect(candidate) != nil {
		if !f.challenged(ctx, session) {
			if err != nil {
				return nil, err
			}
		} else {
			if !warmed && home != "" {
				f.logger.Info("challenge on direct navigation, warming up", "url", targetURL)
				f.warmUp(ctx, session, home)
				if err := session.Navigate(ctx, targetURL); err != nil {
					return nil, fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
				}
			}
			if !f.waitOutChallenge(ctx, session) {
				f.logger.Info("challenge persisted, giving up", "url", targetURL)
				return nil, fmt.Errorf("%w: %w", models.ErrNoData, models.ErrAntiBotBlock)
			}
			candidate, err = f.extractFrom(ctx, session, mp, targetURL)
			if err != nil {
				return nil, err
			}
		}
	}

	if f.sessions != nil {
		if st, stateErr := session.StorageState(ctx); stateErr != nil {
			f.logger.Warn("failed to read session state", "error", stateErr)
		} else if saveErr := f.sessions.Save(mp, st); saveErr != nil {
			f.logger.Warn("failed to save session state", "marketplace", mp, "error", saveErr)
		}
	}

	candidate.Source = "browser_" + candidate.Source
	return candidate, nil
}

// warmUp visits the home page like a person would before opening a product.
func (f *Fallback) warmUp(ctx context.Context, session Session, home string) {
	if err := session.Navigate(ctx, home); err != nil {
		f.logger.Debug("warm-up navigation failed", "url", home, "error", err)
		return
	}
	if err := session.Humanize(ctx); err != nil {
		f.logger.Debug("warm-up interaction failed", "error", err)
	}
	_ = f.sleep(ctx, f.opts.ChallengePoll)
}

// waitOutChallenge polls until the interstitial clears or the wait expires,
// then tries one more round of interaction.
func (f *Fallback) waitOutChallenge(ctx context.Context, session Session) bool {
	for waited := time.Duration(0); waited < f.opts.ChallengeWait; waited += f.opts.ChallengePoll {
		if err := f.sleep(ctx, f.opts.ChallengePoll); err != nil {
			return false
		}
		if !f.challenged(ctx, session) {
			return true
		}
	}

	if err := session.Humanize(ctx); err != nil {
		f.logger.Debug("challenge interaction failed", "error", err)
	}
	return !f.challenged(ctx, session)
}

func (f *Fallback) challenged(ctx context.Context, session Session) bool {
	if u, err := session.URL(ctx); err == nil && antibot.IsGatewayURL(u) {
		return true
	}
	title, err := session.Title(ctx)
	if err != nil {
		f.logger.Debug("failed to read title", "error", err)
	}
	content, err := session.Content(ctx)
	if err != nil {
		f.logger.Debug("failed to read content", "error", err)
	}
	return antibot.LooksLikeChallenge(title, content)
}

// extractFrom prefers the in-page hydration global and fills gaps from the
// rendered DOM.
func (f *Fallback) extractFrom(ctx context.Context, session Session, mp models.Marketplace, pageURL string) (*models.Candidate, error) {
	content, contentErr := session.Content(ctx)

	var fromDOM *models.Candidate
	if content != "" {
		var err error
		fromDOM, err = f.extractor.FromHTML(mp, pageURL, content)
		if err != nil && !errors.Is(err, models.ErrNoData) {
			f.logger.Debug("dom extraction failed", "error", err)
		}
	}

	var hints []string
	if title, err := session.Title(ctx); err == nil && title != "" {
		hints = append(hints, title)
	}
	if fromDOM != nil && fromDOM.Title != "" {
		hints = append(hints, fromDOM.Title)
	}

	var fromPayload *models.Candidate
	if raw, err := session.Evaluate(ctx, extract.StateGlobalsScript); err != nil {
		f.logger.Debug("failed to read state globals", "error", err)
	} else if payload, ok := extract.DecodePayload(raw); ok {
		fromPayload, _ = f.extractor.FromPayload(mp, payload, hints...)
	}

	if contentErr != nil && fromPayload == nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", contentErr)
	}

	switch {
	case fromPayload != nil && fromPayload.Title != "":
		fromPayload.Merge(fromDOM)
		return fromPayload, nil
	case fromDOM != nil:
		fromDOM.Merge(fromPayload)
		return fromDOM, nil
	}
	return nil, fmt.Errorf("%w: rendered page had no product data", models.ErrNoData)
}
