package surface

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/drayhq/dray/pkg/schema"
)

// SessionOptions configures a browser session. The profile directory is
// caller-owned persisted state; the session neither creates credentials nor
// validates them. A missing or expired profile surfaces later as
// SURFACE_NOT_READY failures.
type SessionOptions struct {
	ProfileDir  string
	DownloadDir string
	Headless    bool
}

// Session owns the single automation context shared by all stages. The
// orchestrator is the sole mutator of which surface is active and registers
// every secondary surface it opens so Close can tear them down.
type Session struct {
	pw     *playwright.Playwright
	bctx   playwright.BrowserContext
	logger *slog.Logger

	mu     sync.Mutex
	opened []Surface
}

// OpenSession launches a persistent browser context over the given profile.
func OpenSession(opts SessionOptions, logger *slog.Logger) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSurfaceNotReady,
			"start automation driver: %s", err.Error()).WithCause(err)
	}

	launch := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:        playwright.Bool(opts.Headless),
		AcceptDownloads: playwright.Bool(true),
	}
	if opts.DownloadDir != "" {
		launch.DownloadsPath = playwright.String(opts.DownloadDir)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.ProfileDir, launch)
	if err != nil {
		_ = pw.Stop()
		return nil, schema.NewErrorf(schema.ErrCodeSurfaceNotReady,
			"launch persistent context: %s", err.Error()).WithCause(err)
	}

	return &Session{pw: pw, bctx: bctx, logger: logger}, nil
}

// ActiveSurface returns the session's primary surface, creating a page if the
// restored profile opened none.
func (s *Session) ActiveSurface() (Surface, error) {
	pages := s.bctx.Pages()
	if len(pages) > 0 {
		return &pageSurface{page: pages[0]}, nil
	}
	page, err := s.bctx.NewPage()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSurfaceNotReady,
			"open page: %s", err.Error()).WithCause(err)
	}
	return &pageSurface{page: page}, nil
}

// Track registers a secondary surface for teardown on Close.
func (s *Session) Track(sf Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, sf)
}

// Close tears down tracked secondary surfaces, the browser context and the
// driver. Always safe to call once, regardless of pipeline outcome.
func (s *Session) Close() error {
	s.mu.Lock()
	opened := s.opened
	s.opened = nil
	s.mu.Unlock()

	for _, sf := range opened {
		if err := sf.Close(); err != nil && s.logger != nil {
			s.logger.Warn("close secondary surface", "error", err)
		}
	}
	if err := s.bctx.Close(); err != nil && s.logger != nil {
		s.logger.Warn("close browser context", "error", err)
	}
	return s.pw.Stop()
}

// pageSurface implements Surface over a single rendered page.
type pageSurface struct {
	page playwright.Page
}

func (p *pageSurface) locate(loc Locator) playwright.Locator {
	switch loc.Kind {
	case KindRole:
		return p.page.GetByRole(playwright.AriaRole(loc.Role),
			playwright.PageGetByRoleOptions{Name: loc.Name}).First()
	case KindText:
		return p.page.GetByText(loc.Text,
			playwright.PageGetByTextOptions{Exact: playwright.Bool(loc.Exact)}).First()
	default:
		return p.page.Locator(loc.Selector).First()
	}
}

func (p *pageSurface) IsVisible(ctx context.Context, loc Locator, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := p.locate(loc).WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	// A timeout is a miss, not a broken surface.
	return err == nil, nil
}

func (p *pageSurface) Click(ctx context.Context, loc Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.locate(loc).Click(); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"click %s: %s", loc, err.Error()).WithCause(err)
	}
	return nil
}

func (p *pageSurface) Fill(ctx context.Context, loc Locator, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.locate(loc).Fill(text); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"fill %s: %s", loc, err.Error()).WithCause(err)
	}
	return nil
}

func (p *pageSurface) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Keyboard().Press(key); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"press %q: %s", key, err.Error()).WithCause(err)
	}
	return nil
}

func (p *pageSurface) UploadFile(ctx context.Context, trigger Locator, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chooser, err := p.page.ExpectFileChooser(func() error {
		return p.locate(trigger).Click()
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"file chooser via %s: %s", trigger, err.Error()).WithCause(err)
	}
	if err := chooser.SetFiles(path); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution,
			"set chooser file: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (p *pageSurface) WaitForEvent(ctx context.Context, kind EventKind, timeout time.Duration) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms := playwright.Float(float64(timeout.Milliseconds()))
	noop := func() error { return nil }

	switch kind {
	case EventDownload:
		dl, err := p.page.ExpectDownload(noop,
			playwright.PageExpectDownloadOptions{Timeout: ms})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"wait for download: %s", err.Error()).WithCause(err)
		}
		path, err := dl.Path()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"download path: %s", err.Error()).WithCause(err)
		}
		return &Event{Kind: kind, Download: &Download{
			Path:          path,
			SuggestedName: dl.SuggestedFilename(),
		}}, nil

	case EventNewSurface:
		popup, err := p.page.ExpectPopup(noop,
			playwright.PageExpectPopupOptions{Timeout: ms})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"wait for new surface: %s", err.Error()).WithCause(err)
		}
		return &Event{Kind: kind, Surface: &pageSurface{page: popup}}, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unsupported event kind %q", string(kind))
	}
}

func (p *pageSurface) Evaluate(ctx context.Context, probe string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := p.page.Evaluate(probe)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"evaluate probe: %s", err.Error()).WithCause(err)
	}
	return v, nil
}

func (p *pageSurface) InnerText(ctx context.Context, loc Locator) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l := p.locate(loc)
	n, err := l.Count()
	if err != nil || n == 0 {
		return "", nil
	}
	text, err := l.InnerText()
	if err != nil {
		return "", nil
	}
	return text, nil
}

func (p *pageSurface) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSurfaceNotReady,
			"navigate to %s: %s", url, err.Error()).WithCause(err)
	}
	return nil
}

func (p *pageSurface) URL() string { return p.page.URL() }

func (p *pageSurface) Close() error { return p.page.Close() }

var _ Surface = (*pageSurface)(nil)
