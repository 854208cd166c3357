package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pixlift/internal/compress"
	"pixlift/internal/crop"
	pixerrors "pixlift/internal/errors"
	"pixlift/internal/media"
	"pixlift/internal/notification"
	"pixlift/internal/observability"
	"pixlift/internal/preview"
	"pixlift/internal/session"
	"pixlift/internal/validate"
)

// Controller owns the shared state of one image control. Every mutation of
// that state, including the bound value, happens under mu and only after
// the session token check passes; results of retired runs are dropped, not
// queued. Cancellation of an in-flight run is advisory: the run may finish
// its current stage, but its results cannot apply.
type Controller struct {
	cfg Config

	mu           sync.Mutex
	closed       bool
	state        State
	lastErr      error
	pending      *media.File // single mode: validated file awaiting crop
	pendingToken session.Token

	session    *session.Controller
	previews   *preview.Manager
	validator  *validate.Validator
	compressor *compress.Compressor
}

// State reports the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the failure that moved the controller out of its happy path.
// Reset and a new selection clear it.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Mode reports the configured value shape.
func (c *Controller) Mode() Mode {
	return c.cfg.Mode
}

// AspectRatio reports the crop box constraint, 0 when free.
func (c *Controller) AspectRatio() float64 {
	return c.cfg.AspectRatio
}

// Pending returns the validated file awaiting a crop decision, nil outside
// the cropping state.
func (c *Controller) Pending() *media.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Preview returns the live preview handle, nil when none is held.
func (c *Controller) Preview() *preview.Handle {
	return c.previews.Live()
}

// PreviewStats reports how many preview handles were ever acquired and how
// many were released.
func (c *Controller) PreviewStats() (allocated, released uint64) {
	return c.previews.Stats()
}

// Select begins a new ingestion run, retiring any run still in flight. In
// single mode exactly one file is required and Select returns once the crop
// dialog is ready or validation rejected the file. In multiple mode the
// whole batch runs to commit before Select returns; callers wanting
// fire-and-forget run it on their own goroutine.
func (c *Controller) Select(ctx context.Context, files ...*media.File) error {
	if len(files) == 0 {
		return fmt.Errorf("pipeline: no files selected")
	}
	if c.cfg.Mode == ModeSingle && len(files) != 1 {
		return fmt.Errorf("pipeline: single mode takes exactly one file, got %d", len(files))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	token := c.session.Begin()
	c.releasePreviewLocked(ctx)
	c.pending = nil
	c.pendingToken = 0
	c.lastErr = nil
	c.setStateLocked(token, StateSelected)
	c.mu.Unlock()

	ctx, span := c.cfg.Tracing.StartSpan(ctx, observability.SpanIngestRun,
		observability.SessionAttrs(uint64(token), c.cfg.Mode.String())...)
	defer span.End()

	if c.cfg.Mode == ModeSingle {
		return c.runSingleSelect(ctx, token, files[0])
	}
	return c.runBatch(ctx, token, files)
}

// runSingleSelect validates the file and opens the crop dialog.
func (c *Controller) runSingleSelect(ctx context.Context, token session.Token, f *media.File) error {
	if !c.advance(token, StateValidating) {
		return ErrSuperseded
	}
	if err := c.validateStage(ctx, f); err != nil {
		return c.rejectSelection(token, f.Name, err)
	}

	c.mu.Lock()
	if c.closed || !c.session.IsCurrent(token) {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if c.cfg.PreviewEnabled {
		if _, err := c.previews.Acquire(f); err != nil {
			c.mu.Unlock()
			return err
		}
		c.cfg.Metrics.PreviewAcquired(ctx)
	}
	c.pending = f
	c.pendingToken = token
	c.setStateLocked(token, StateCropping)
	c.mu.Unlock()

	c.cfg.Logger.Debug("crop dialog ready for %s (session %d)", f.Name, token)
	return nil
}

// CommitCrop resolves the dialog's region against the pending file and runs
// compression and upload. On a crop failure the dialog stays open: the state
// remains cropping and the same file can be retried with another region.
func (c *Controller) CommitCrop(ctx context.Context, region crop.Region) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cfg.Mode != ModeSingle {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: crop commits apply to single mode only")
	}
	if c.state != StateCropping || c.pending == nil {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: no crop in progress")
	}
	token := c.pendingToken
	original := c.pending
	if !c.session.IsCurrent(token) {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.mu.Unlock()

	start := time.Now()

	cropped, err := c.cropStage(ctx, original, region)
	if err != nil {
		c.mu.Lock()
		if c.closed || !c.session.IsCurrent(token) {
			c.mu.Unlock()
			return ErrSuperseded
		}
		c.lastErr = err
		// Dialog stays open for another attempt; no state change.
		c.observe(Event{Token: token, State: StateCropping, Stage: StageCrop, File: original.Name, Progress: -1, Err: err})
		c.mu.Unlock()
		c.cfg.Logger.Warn("crop failed for %s: %v", original.Name, err)
		return err
	}

	if !c.advance(token, StateCompressing) {
		return ErrSuperseded
	}
	outcome, err := c.compressStage(ctx, token, cropped)
	if err != nil {
		return c.fail(ctx, token, start, "Compression failed", original.Name, original.Size(), err)
	}

	if !c.advance(token, StateUploading) {
		return ErrSuperseded
	}
	url, err := c.uploadStage(ctx, outcome.File)
	if err != nil {
		return c.fail(ctx, token, start, "Upload failed", original.Name, original.Size(), err)
	}

	c.mu.Lock()
	if c.closed || !c.session.IsCurrent(token) {
		c.mu.Unlock()
		c.cfg.Metrics.RecordIngest(ctx, "single", "superseded", original.Size(), outcome.File.Size(), time.Since(start))
		return ErrSuperseded
	}
	c.cfg.Binding.setSingle(url)
	c.pending = nil
	c.pendingToken = 0
	c.releasePreviewLocked(ctx)
	c.setStateLocked(token, StateCommitted)
	c.mu.Unlock()

	elapsed := time.Since(start)
	c.cfg.Metrics.RecordIngest(ctx, "single", "committed", original.Size(), outcome.File.Size(), elapsed)
	c.cfg.Logger.Info("committed %s as %s (%s -> %s in %s)",
		original.Name, url, media.FormatBytes(original.Size()), media.FormatBytes(outcome.File.Size()), roundElapsed(elapsed))
	c.notify(notification.PriorityNormal, "Image uploaded",
		commitBody(original.Name, original.Size(), outcome, elapsed),
		map[string]string{"file": original.Name, "url": url})
	return nil
}

// CancelCrop closes the dialog without ingesting. The bound value is
// untouched and the preview handle is released.
func (c *Controller) CancelCrop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateCropping {
		return fmt.Errorf("pipeline: no crop in progress")
	}
	token := c.pendingToken
	c.session.Invalidate()
	c.pending = nil
	c.pendingToken = 0
	c.releasePreviewLocked(ctx)
	c.lastErr = nil
	c.setStateLocked(token, StateIdle)
	return nil
}

// runBatch validates, compresses, and uploads a multi-file selection. The
// batch commits atomically: one upload failure discards every URL and the
// bound list is left exactly as it was.
func (c *Controller) runBatch(ctx context.Context, token session.Token, files []*media.File) error {
	start := time.Now()

	if !c.advance(token, StateValidating) {
		return ErrSuperseded
	}
	accepted := make([]*media.File, 0, len(files))
	var firstReject error
	for _, f := range files {
		if err := c.validateStage(ctx, f); err != nil {
			if firstReject == nil {
				firstReject = err
			}
			c.observe(Event{Token: token, State: StateValidating, Stage: StageValidate, File: f.Name, Progress: -1, Err: err})
			c.notify(notification.PriorityNormal, "File skipped", err.Error(), map[string]string{"file": f.Name})
			c.cfg.Logger.Info("skipped %s: %v", f.Name, err)
			continue
		}
		accepted = append(accepted, f)
	}
	if len(accepted) == 0 {
		err := fmt.Errorf("pipeline: no file in the selection passed validation: %w", firstReject)
		return c.rejectSelection(token, "", err)
	}

	if !c.advance(token, StateCompressing) {
		return ErrSuperseded
	}
	outcomes := make([]*compress.Outcome, len(accepted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, f := range accepted {
		i, f := i, f // Capture loop variables
		g.Go(func() error {
			out, err := c.compressStage(gctx, token, f)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	var originalTotal int64
	for _, f := range accepted {
		originalTotal += f.Size()
	}
	if err := g.Wait(); err != nil {
		return c.fail(ctx, token, start, "Compression failed", "", originalTotal, err)
	}

	if !c.advance(token, StateUploading) {
		return ErrSuperseded
	}
	urls := make([]string, len(outcomes))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, out := range outcomes {
		i, out := i, out // Capture loop variables
		g.Go(func() error {
			url, err := c.uploadStage(gctx, out.File)
			if err != nil {
				return fmt.Errorf("%s: %w", out.File.Name, err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.fail(ctx, token, start, "Batch failed", "", originalTotal, err)
	}

	var uploadedTotal int64
	for _, out := range outcomes {
		uploadedTotal += out.File.Size()
	}

	ctx, span := c.cfg.Tracing.StartSpan(ctx, observability.SpanBatchCommit,
		observability.SessionAttrs(uint64(token), "multiple")...)
	defer span.End()

	c.mu.Lock()
	if c.closed || !c.session.IsCurrent(token) {
		c.mu.Unlock()
		c.cfg.Metrics.RecordIngest(ctx, "multiple", "superseded", originalTotal, uploadedTotal, time.Since(start))
		return ErrSuperseded
	}
	existing := c.cfg.Binding.getMulti()
	next := make([]string, 0, len(existing)+len(urls))
	next = append(next, existing...)
	next = append(next, urls...)
	c.cfg.Binding.setMulti(next)
	c.setStateLocked(token, StateCommitted)
	c.mu.Unlock()

	elapsed := time.Since(start)
	c.cfg.Metrics.RecordIngest(ctx, "multiple", "committed", originalTotal, uploadedTotal, elapsed)
	c.cfg.Logger.Info("committed batch of %d (%s -> %s in %s)",
		len(urls), media.FormatBytes(originalTotal), media.FormatBytes(uploadedTotal), roundElapsed(elapsed))
	c.notify(notification.PriorityNormal, "Batch uploaded",
		fmt.Sprintf("%d images: %s -> %s in %s",
			len(urls), media.FormatBytes(originalTotal), media.FormatBytes(uploadedTotal), roundElapsed(elapsed)),
		map[string]string{"count": fmt.Sprintf("%d", len(urls))})
	return nil
}

// Remove deletes url from the bound value. This is a value mutation only:
// no session begins and no pipeline stage runs.
func (c *Controller) Remove(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch c.cfg.Mode {
	case ModeSingle:
		if c.cfg.Binding.getSingle() == url {
			c.cfg.Binding.setSingle("")
		}
	case ModeMultiple:
		current := c.cfg.Binding.getMulti()
		next := make([]string, 0, len(current))
		for _, u := range current {
			if u != url {
				next = append(next, u)
			}
		}
		if len(next) != len(current) {
			c.cfg.Binding.setMulti(next)
		}
	}
}

// Reset returns the controller to idle, retiring whatever is in flight.
// The bound value keeps its committed contents.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.session.Invalidate()
	c.pending = nil
	c.pendingToken = 0
	c.releasePreviewLocked(ctx)
	c.lastErr = nil
	c.setStateLocked(0, StateIdle)
}

// Close retires the controller. In-flight runs finish their current stage
// but cannot apply results; further operations return ErrClosed.
func (c *Controller) Close() error {
	ctx := context.Background()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.session.Invalidate()
	c.pending = nil
	c.pendingToken = 0
	c.releasePreviewLocked(ctx)
	c.mu.Unlock()

	c.previews.Close()
	c.cfg.Metrics.DecrementActiveSessions(ctx)
	return nil
}

// advance moves to state s if token is still current, reporting whether the
// transition applied.
func (c *Controller) advance(token session.Token, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.session.IsCurrent(token) {
		return false
	}
	c.setStateLocked(token, s)
	return true
}

func (c *Controller) setStateLocked(token session.Token, s State) {
	c.state = s
	c.observe(Event{Token: token, State: s, Progress: -1})
}

// rejectSelection applies a validation failure: back to idle, nothing
// partially ingested.
func (c *Controller) rejectSelection(token session.Token, file string, err error) error {
	c.mu.Lock()
	if c.closed || !c.session.IsCurrent(token) {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.lastErr = err
	c.state = StateIdle
	c.observe(Event{Token: token, State: StateIdle, Stage: StageValidate, File: file, Progress: -1, Err: err})
	c.mu.Unlock()

	c.cfg.Logger.Info("selection rejected: %v", err)
	c.notify(notification.PriorityHigh, "Validation failed", err.Error(), fileMeta(file))
	c.cfg.Metrics.RecordIngest(context.Background(), c.cfg.Mode.String(), "rejected", 0, 0, 0)
	return err
}

// fail applies a terminal stage failure if the run is still current. The
// error state is stable and re-enterable: a new Select starts over.
func (c *Controller) fail(ctx context.Context, token session.Token, start time.Time, title, file string, originalBytes int64, err error) error {
	c.mu.Lock()
	if c.closed || !c.session.IsCurrent(token) {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.lastErr = err
	c.state = StateError
	c.observe(Event{Token: token, State: StateError, File: file, Progress: -1, Err: err})
	c.mu.Unlock()

	c.cfg.Logger.Warn("run failed (session %d): %v", token, err)
	c.notify(notification.PriorityHigh, title, pixerrors.FormatForUser(err), fileMeta(file))
	c.cfg.Metrics.RecordIngest(ctx, c.cfg.Mode.String(), "error", originalBytes, 0, time.Since(start))
	return err
}

func (c *Controller) validateStage(ctx context.Context, f *media.File) error {
	return c.stage(ctx, StageValidate, f, func(ctx context.Context) error {
		return c.validator.Validate(ctx, f)
	})
}

func (c *Controller) cropStage(ctx context.Context, f *media.File, region crop.Region) (*media.File, error) {
	var cropped *media.File
	err := c.stage(ctx, StageCrop, f, func(ctx context.Context) error {
		var cerr error
		cropped, cerr = crop.Cut(f, region)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return cropped, nil
}

func (c *Controller) compressStage(ctx context.Context, token session.Token, f *media.File) (*compress.Outcome, error) {
	opts := c.cfg.Compression
	opts.OnProgress = func(pct int) {
		c.observe(Event{Token: token, State: StateCompressing, Stage: StageCompress, File: f.Name, Progress: pct})
	}
	var outcome *compress.Outcome
	err := c.stage(ctx, StageCompress, f, func(ctx context.Context) error {
		var cerr error
		outcome, cerr = c.compressor.Compress(ctx, f, opts)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	c.cfg.Metrics.RecordCompression(ctx, outcome.OriginalSize, outcome.CompressedSize, outcome.Skipped)
	return outcome, nil
}

func (c *Controller) uploadStage(ctx context.Context, f *media.File) (string, error) {
	var url string
	err := c.stage(ctx, StageUpload, f, func(ctx context.Context) error {
		var uerr error
		url, uerr = c.cfg.Uploader.Upload(ctx, f, c.cfg.Scope)
		return uerr
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// stage runs fn inside a span and records its duration and status.
func (c *Controller) stage(ctx context.Context, stage string, f *media.File, fn func(context.Context) error) error {
	ctx, span := c.cfg.Tracing.StartSpan(ctx, spanFor(stage),
		observability.FileAttrs(f.Name, f.MIME, f.Size())...)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	c.cfg.Metrics.RecordStage(ctx, stage, status, time.Since(start))
	return err
}

func (c *Controller) observe(ev Event) {
	if c.cfg.Observer != nil {
		c.cfg.Observer(ev)
	}
}

// releasePreviewLocked releases the live handle, if any. Callers hold mu.
func (c *Controller) releasePreviewLocked(ctx context.Context) {
	if h := c.previews.Live(); h != nil {
		c.previews.Release(h)
		c.cfg.Metrics.PreviewReleased(ctx)
	}
}

func (c *Controller) notify(p notification.NotificationPriority, title, body string, meta map[string]string) {
	if c.cfg.Notifier == nil {
		return
	}
	if _, err := c.cfg.Notifier.Send(context.Background(), notification.Notification{
		Title:    title,
		Body:     body,
		Priority: p,
		Metadata: meta,
	}); err != nil {
		c.cfg.Logger.Debug("notification dropped: %v", err)
	}
}

func spanFor(stage string) string {
	switch stage {
	case StageValidate:
		return observability.SpanStageValidate
	case StageCrop:
		return observability.SpanStageCrop
	case StageCompress:
		return observability.SpanStageCompress
	case StageUpload:
		return observability.SpanStageUpload
	default:
		return observability.SpanBatchCommit
	}
}

func commitBody(name string, originalBytes int64, outcome *compress.Outcome, elapsed time.Duration) string {
	if outcome.Skipped {
		return fmt.Sprintf("%s: %s in %s (compression skipped)",
			name, media.FormatBytes(originalBytes), roundElapsed(elapsed))
	}
	return fmt.Sprintf("%s: %s -> %s in %s",
		name, media.FormatBytes(originalBytes), media.FormatBytes(outcome.File.Size()), roundElapsed(elapsed))
}

func roundElapsed(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}

func fileMeta(file string) map[string]string {
	if file == "" {
		return nil
	}
	return map[string]string{"file": file}
}
