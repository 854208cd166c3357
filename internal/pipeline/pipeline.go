// Package pipeline drives one image control's ingestion lifecycle: validate,
// optional interactive crop, compress, upload, commit. A monotonic session
// token retires superseded runs, so a hyperactive user re-selecting
// mid-flight can never have a stale result overwrite newer state; the
// committed value and the preview handle are mutated only after the token
// check passes.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"pixlift/internal/compress"
	"pixlift/internal/logging"
	"pixlift/internal/notification"
	"pixlift/internal/observability"
	"pixlift/internal/preview"
	"pixlift/internal/session"
	"pixlift/internal/upload"
	"pixlift/internal/validate"
)

// Mode selects the control's value shape and flow: single always crops
// before commit, multiple ingests batches without cropping.
type Mode int

const (
	ModeSingle Mode = iota + 1
	ModeMultiple
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMultiple:
		return "multiple"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the controller's position in the ingestion lifecycle.
type State int

const (
	StateIdle State = iota
	StateSelected
	StateValidating
	StateCropping
	StateCompressing
	StateUploading
	StateCommitted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateValidating:
		return "validating"
	case StateCropping:
		return "cropping"
	case StateCompressing:
		return "compressing"
	case StateUploading:
		return "uploading"
	case StateCommitted:
		return "committed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage names used in events, metrics, and spans.
const (
	StageValidate = "validate"
	StageCrop     = "crop"
	StageCompress = "compress"
	StageUpload   = "upload"
	StageCommit   = "commit"
)

// ErrSuperseded reports that a newer selection retired this run before it
// could commit. The run's results were dropped, not applied.
var ErrSuperseded = errors.New("superseded by a newer selection")

// ErrClosed reports an operation on a controller after Close.
var ErrClosed = errors.New("ingestion controller closed")

// Event is one observable step of a run: a state transition, a per-file
// stage, or a compression progress tick.
type Event struct {
	Token    session.Token
	State    State
	Stage    string
	File     string
	Progress int // 0..100 during compression, -1 otherwise
	Err      error
}

// Observer receives events synchronously, possibly from several goroutines
// during batch stages. It must return quickly and must not call back into
// the controller.
type Observer func(Event)

// Binding connects the controller to the caller-owned committed value. The
// two shapes are mutually exclusive: a single URL with its setter, or an
// ordered URL list with its setter. Accessors run under the controller's
// lock and must not call back into the controller.
type Binding struct {
	mode Mode

	getSingle func() string
	setSingle func(string)
	getMulti  func() []string
	setMulti  func([]string)
}

// SingleBinding binds a single-URL value.
func SingleBinding(get func() string, set func(string)) Binding {
	return Binding{mode: ModeSingle, getSingle: get, setSingle: set}
}

// MultiBinding binds an ordered URL list.
func MultiBinding(get func() []string, set func([]string)) Binding {
	return Binding{mode: ModeMultiple, getMulti: get, setMulti: set}
}

// Mode reports which value shape the binding carries.
func (b Binding) Mode() Mode {
	return b.mode
}

// Config assembles a controller. Mode and Binding must agree; the mismatch
// is caught at construction, not at commit time.
type Config struct {
	Mode    Mode
	Binding Binding

	Rules validate.Rules

	// Compression is the per-run template. Its OnProgress field is ignored:
	// progress reaches the caller through Observer events, which carry the
	// file and session so overlapping runs cannot cross-report.
	Compression compress.Options

	// AspectRatio constrains the interactive crop box (width/height);
	// 0 leaves it free. The adapter itself takes whatever region commits.
	AspectRatio float64

	Scope          string
	Uploader       upload.Uploader
	PreviewEnabled bool

	// Parallelism bounds concurrent compression and upload in multiple
	// mode. Zero means a small default.
	Parallelism int

	Notifier *notification.Center
	Observer Observer
	Logger   logging.Logger
	Metrics  *observability.MetricsCollector
	Tracing  *observability.TracerProvider
}

const defaultParallelism = 4

// New builds a controller in the idle state.
func New(cfg Config) (*Controller, error) {
	if cfg.Mode != ModeSingle && cfg.Mode != ModeMultiple {
		return nil, fmt.Errorf("pipeline: unknown mode %s", cfg.Mode)
	}
	if cfg.Binding.Mode() != cfg.Mode {
		return nil, fmt.Errorf("pipeline: %s mode requires a %s binding, got %s",
			cfg.Mode, cfg.Mode, cfg.Binding.Mode())
	}
	switch cfg.Mode {
	case ModeSingle:
		if cfg.Binding.getSingle == nil || cfg.Binding.setSingle == nil {
			return nil, fmt.Errorf("pipeline: single binding requires both accessors")
		}
	case ModeMultiple:
		if cfg.Binding.getMulti == nil || cfg.Binding.setMulti == nil {
			return nil, fmt.Errorf("pipeline: multi binding requires both accessors")
		}
	}
	if cfg.Uploader == nil {
		return nil, fmt.Errorf("pipeline: an uploader is required")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Metrics == nil {
		cfg.Metrics = &observability.MetricsCollector{}
	}
	if cfg.Tracing == nil {
		tp, err := observability.NewTracerProvider(observability.TracingConfig{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("pipeline: init noop tracer: %w", err)
		}
		cfg.Tracing = tp
	}

	validator, err := validate.New(cfg.Rules, validate.WithLogger(cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	c := &Controller{
		cfg:        cfg,
		state:      StateIdle,
		session:    session.NewController(),
		previews:   preview.NewManager(preview.WithLogger(cfg.Logger)),
		validator:  validator,
		compressor: compress.New(compress.WithLogger(cfg.Logger)),
	}
	cfg.Metrics.IncrementActiveSessions(context.Background())
	return c, nil
}
