package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/drayhq/dray/internal/artifact"
	"github.com/drayhq/dray/internal/journal"
	"github.com/drayhq/dray/internal/poll"
	"github.com/drayhq/dray/internal/resolve"
	"github.com/drayhq/dray/internal/surface"
	"github.com/drayhq/dray/pkg/schema"
)

// stageSession acquires the automation session over the caller-owned profile.
// No re-authentication happens here; a missing or expired profile surfaces
// later as SURFACE_NOT_READY failures.
func (o *Orchestrator) stageSession(ctx context.Context, st *runState) error {
	session, err := o.open(ctx)
	if err != nil {
		return err
	}
	st.session = session

	sf, err := session.ActiveSurface()
	if err != nil {
		return err
	}
	st.sf = sf
	st.feed = &surfaceFeed{sf: sf}
	return nil
}

func (o *Orchestrator) stageNavigate(ctx context.Context, st *runState) error {
	if o.params.ResearchURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "no research surface URL configured")
	}
	return st.sf.Navigate(ctx, o.params.ResearchURL, o.opts.NavigateTimeout)
}

// stageConfigure selects the model tier. Best-effort: the stage is marked
// degradable, so any failure here logs and continues with the remote default.
func (o *Orchestrator) stageConfigure(ctx context.Context, st *runState) error {
	ex := resolve.NewExecutor(st.sf, o.logger)
	if _, err := ex.ResolveAndAct(ctx, modelPickerStrategies(), resolve.Click(), o.opts.StrategyTimeout); err != nil {
		return err
	}
	_, err := ex.ResolveAndAct(ctx, modelOptionStrategies(st.task.Model), resolve.Click(), o.opts.StrategyTimeout)
	return err
}

// stageSubmit fills the query into the prompt and submits it, falling back to
// the Enter key when no submit control resolves.
func (o *Orchestrator) stageSubmit(ctx context.Context, st *runState) error {
	ex := resolve.NewExecutor(st.sf, o.logger)
	if _, err := ex.ResolveAndAct(ctx, promptStrategies(), resolve.Fill(st.task.Query), o.opts.StrategyTimeout); err != nil {
		return err
	}

	_, err := ex.ResolveAndAct(ctx, submitStrategies(), resolve.Click(), o.opts.StrategyTimeout)
	if err != nil {
		var derr *schema.DrayError
		if errors.As(err, &derr) && derr.Code == schema.ErrCodeResolutionExhausted {
			o.logger.WarnContext(ctx, "no submit control resolved, sending Enter")
			return st.sf.PressKey(ctx, "Enter")
		}
		return err
	}
	return nil
}

// stageConfirm acknowledges the plan preview when the remote surface shows
// one, retrying the ranked confirmation strategies on a fixed cadence. Some
// task types start without confirmation, so window expiry is soft: the
// pipeline proceeds.
func (o *Orchestrator) stageConfirm(ctx context.Context, st *runState) error {
	ex := resolve.NewExecutor(st.sf, o.logger)
	windowEnd := time.Now().Add(o.opts.ConfirmWindow)

	for {
		iterStart := time.Now()
		_, err := ex.ResolveAndAct(ctx, confirmStrategies(), resolve.Click(), o.opts.ConfirmInterval)
		if err == nil {
			o.logger.InfoContext(ctx, "plan confirmed")
			return nil
		}
		var derr *schema.DrayError
		if !errors.As(err, &derr) || derr.Code != schema.ErrCodeResolutionExhausted {
			return err
		}

		if time.Now().After(windowEnd) {
			soft := schema.NewErrorf(schema.ErrCodeConfirmationNotFound,
				"no confirmation prompt within %s, proceeding", o.opts.ConfirmWindow)
			o.logger.WarnContext(ctx, soft.Message)
			o.emit(ctx, st.task, schema.EventStageDegraded, map[string]any{"error": soft.Error()})
			return nil
		}
		if err := sleepCtx(ctx, remainderOf(iterStart, o.opts.ConfirmInterval)); err != nil {
			return err
		}
	}
}

// stageAwait runs the completion poller against the active surface. A poll
// timeout propagates as a soft-fatal failure: the pipeline halts, the process
// exits non-zero, no crash.
func (o *Orchestrator) stageAwait(ctx context.Context, st *runState) error {
	var appender journal.EventAppender
	if o.journal != nil {
		appender = o.journal
	}
	poller := poll.New(o.params.Poll, st.feed, o.logger, appender)
	_, err := poller.Await(ctx, st.task.StartedAt)
	return err
}

// stageExport drives the remote export affordance and waits for the generated
// document surface to become reachable, resolved across three independent
// signals with an outer bound. Exhaustion here is fatal.
func (o *Orchestrator) stageExport(ctx context.Context, st *runState) error {
	ex := resolve.NewExecutor(st.sf, o.logger)
	if _, err := ex.ResolveAndAct(ctx, exportTriggerStrategies(), resolve.Click(), o.opts.StrategyTimeout); err != nil {
		return err
	}

	target, signal, err := o.awaitExportSurface(ctx, st)
	if err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "export surface reachable", "signal", signal)
	st.export = target
	st.session.Track(target)

	// Trigger the document download. The event wait is best-effort: some
	// surfaces never report one, and the retrieve stage scans the download
	// directory regardless.
	dex := resolve.NewExecutor(target, o.logger)
	if _, err := dex.ResolveAndAct(ctx, downloadStrategies(), resolve.Click(), o.opts.StrategyTimeout); err != nil {
		return err
	}
	ev, err := target.WaitForEvent(ctx, surface.EventDownload, o.opts.DownloadWait)
	if err != nil {
		o.logger.WarnContext(ctx, "no download event, will scan download directory", "error", err.Error())
		return nil
	}
	st.dlPath = ev.Download.Path
	return nil
}

// awaitExportSurface polls the three export-detection signals in priority
// order until one yields a reachable surface or the outer window closes.
func (o *Orchestrator) awaitExportSurface(ctx context.Context, st *runState) (surface.Surface, string, error) {
	windowEnd := time.Now().Add(o.opts.ExportWindow)
	inner := o.opts.ExportProbeInterval

	probes := []resolve.Probe[surface.Surface]{
		{Name: "new-surface", Fn: func(ctx context.Context) (surface.Surface, bool, error) {
			ev, err := st.sf.WaitForEvent(ctx, surface.EventNewSurface, inner)
			if err != nil {
				return nil, false, nil // no popup within the inner bound
			}
			return ev.Surface, true, nil
		}},
		{Name: "inline-link", Fn: func(ctx context.Context) (surface.Surface, bool, error) {
			return o.openVia(ctx, st.sf, exportLinkLocator, inner)
		}},
		{Name: "notification", Fn: func(ctx context.Context) (surface.Surface, bool, error) {
			return o.openVia(ctx, st.sf, notificationLocator, inner)
		}},
	}

	for {
		iterStart := time.Now()
		target, signal, err := resolve.TryInOrder(ctx, probes)
		if err == nil {
			return target, signal, nil
		}
		var derr *schema.DrayError
		if !errors.As(err, &derr) || derr.Code != schema.ErrCodeNoStrategySucceeded {
			return nil, "", err
		}

		if time.Now().After(windowEnd) {
			return nil, "", schema.NewErrorf(schema.ErrCodeResolutionExhausted,
				"export surface not reachable within %s", o.opts.ExportWindow).
				WithDetails(map[string]any{
					"signals": []string{"new-surface", "inline-link", "notification"},
				}).WithCause(err)
		}
		if err := sleepCtx(ctx, remainderOf(iterStart, inner)); err != nil {
			return nil, "", err
		}
	}
}

// openVia clicks a visible affordance and captures the surface it opens. A
// hidden affordance is a clean miss.
func (o *Orchestrator) openVia(ctx context.Context, sf surface.Surface, loc surface.Locator, timeout time.Duration) (surface.Surface, bool, error) {
	visible, err := sf.IsVisible(ctx, loc, timeout)
	if err != nil || !visible {
		return nil, false, err
	}
	if err := sf.Click(ctx, loc); err != nil {
		return nil, false, err
	}
	ev, err := sf.WaitForEvent(ctx, surface.EventNewSurface, timeout)
	if err != nil {
		return nil, false, err
	}
	return ev.Surface, true, nil
}

// stageRetrieve locates the produced artifact: the surface-reported download
// path when one exists, otherwise the newest matching file created after task
// start, waited for over a short acceptance window.
func (o *Orchestrator) stageRetrieve(ctx context.Context, st *runState) error {
	meta, err := o.locateArtifact(ctx, st)
	if err != nil {
		return err
	}
	st.art = &schema.Artifact{Path: meta.Path, SizeHint: meta.Size, SourceStage: schema.StageRetrieve}
	o.logger.InfoContext(ctx, "artifact found", "path", meta.Path, "size", meta.Size)
	o.emit(ctx, st.task, schema.EventArtifactFound, map[string]any{
		"path": meta.Path,
		"size": meta.Size,
	})
	return nil
}

func (o *Orchestrator) locateArtifact(ctx context.Context, st *runState) (*artifact.FileMeta, error) {
	if st.dlPath != "" {
		if info, err := os.Stat(st.dlPath); err == nil {
			return &artifact.FileMeta{Path: st.dlPath, Size: info.Size(), ModTime: info.ModTime()}, nil
		}
		o.logger.WarnContext(ctx, "reported download path missing, scanning instead", "path", st.dlPath)
	}
	return artifact.WaitForFile(ctx, o.params.DownloadDir, o.params.ArtifactExt,
		st.task.StartedAt, o.opts.RetrieveWindow, o.opts.RetrieveInterval)
}

// stageDeliver hands the artifact to the destination surface through its own
// upload and send sequence. Only an explicit error response aborts delivery;
// absence of a confirmation is logged and accepted.
func (o *Orchestrator) stageDeliver(ctx context.Context, st *runState) error {
	if o.params.DeliverURL == "" {
		o.logger.InfoContext(ctx, "no destination configured, artifact left on disk", "path", st.art.Path)
		return nil
	}
	if err := st.sf.Navigate(ctx, o.params.DeliverURL, o.opts.NavigateTimeout); err != nil {
		return err
	}

	ex := resolve.NewExecutor(st.sf, o.logger)
	if _, err := ex.ResolveAndAct(ctx, uploadStrategies(), resolve.Upload(st.art.Path), o.opts.StrategyTimeout); err != nil {
		return err
	}
	if _, err := ex.ResolveAndAct(ctx, sendStrategies(), resolve.Click(), o.opts.StrategyTimeout); err != nil {
		return err
	}

	if visible, err := st.sf.IsVisible(ctx, errorBannerLocator, o.opts.StrategyTimeout); err == nil && visible {
		text, _ := st.sf.InnerText(ctx, errorBannerLocator)
		return schema.NewErrorf(schema.ErrCodeDeliveryFailed,
			"destination rejected the artifact: %s", text)
	}
	if visible, err := st.sf.IsVisible(ctx, sentMarkerLocator, o.opts.StrategyTimeout); err == nil && visible {
		o.logger.InfoContext(ctx, "delivery confirmed")
	} else {
		o.logger.WarnContext(ctx, "no explicit delivery confirmation, assuming sent")
	}
	o.emit(ctx, st.task, schema.EventDelivered, map[string]any{"path": st.art.Path})
	return nil
}

// remainderOf returns what is left of a fixed cadence slot started at t.
func remainderOf(t time.Time, interval time.Duration) time.Duration {
	if left := interval - time.Since(t); left > 0 {
		return left
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
