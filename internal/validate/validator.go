// Package validate implements the acceptance checks that gate files into the
// ingestion pipeline: MIME type, byte size, and pixel dimensions.
package validate

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"pixlift/internal/logging"
	"pixlift/internal/media"
)

// Rules is the immutable acceptance configuration for one validator.
// A zero bound means "unbounded" for that axis.
type Rules struct {
	MaxSizeMB    float64  `json:"max_size_mb" yaml:"max_size_mb"`
	AllowedTypes []string `json:"allowed_types" yaml:"allowed_types"`
	MinWidth     int      `json:"min_width" yaml:"min_width"`
	MinHeight    int      `json:"min_height" yaml:"min_height"`
	MaxWidth     int      `json:"max_width" yaml:"max_width"`
	MaxHeight    int      `json:"max_height" yaml:"max_height"`

	// ProbeDimensions forces the dimension probe even when no bounds are
	// set, so callers get width/height populated on the candidate.
	ProbeDimensions bool `json:"probe_dimensions" yaml:"probe_dimensions"`
}

// needsProbe reports whether the rule set requires decoding the header.
func (r Rules) needsProbe() bool {
	return r.ProbeDimensions || r.MinWidth > 0 || r.MinHeight > 0 || r.MaxWidth > 0 || r.MaxHeight > 0
}

// Reason classifies why a file was rejected.
type Reason string

const (
	ReasonNotImage       Reason = "not_image"
	ReasonTypeNotAllowed Reason = "type_not_allowed"
	ReasonOversize       Reason = "oversize"
	ReasonDimensions     Reason = "dimensions"
	ReasonProbeFailed    Reason = "probe_failed"
)

// Error is the validation verdict for a rejected file.
type Error struct {
	Reason Reason
	File   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate %s: %s", e.File, e.Detail)
}

const defaultProbeCacheSize = 128

// Validator applies one rule set. It is safe for concurrent use.
type Validator struct {
	rules  Rules
	logger logging.Logger
	cache  *lru.Cache[probeKey, media.Info]
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger attaches a logger for probe diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(v *Validator) {
		v.logger = logging.OrNop(logger)
	}
}

// New builds a validator for the given rules.
func New(rules Rules, opts ...Option) (*Validator, error) {
	cache, err := lru.New[probeKey, media.Info](defaultProbeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create probe cache: %w", err)
	}

	v := &Validator{
		rules:  rules,
		logger: logging.Nop(),
		cache:  cache,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Rules returns the rule set the validator was built with.
func (v *Validator) Rules() Rules {
	return v.rules
}

// Validate checks a candidate against the rule set. A nil return means the
// file is accepted. The verdict is a pure function of the candidate's type,
// size, and dimensions; the only I/O is the header probe.
func (v *Validator) Validate(ctx context.Context, f *media.File) error {
	if f == nil || len(f.Data) == 0 {
		return &Error{Reason: ReasonNotImage, File: fileName(f), Detail: "empty file"}
	}

	if !media.IsImage(f.MIME) {
		return &Error{
			Reason: ReasonNotImage,
			File:   f.Name,
			Detail: fmt.Sprintf("type %s is not an image", f.MIME),
		}
	}

	if len(v.rules.AllowedTypes) > 0 && !typeAllowed(f.MIME, v.rules.AllowedTypes) {
		return &Error{
			Reason: ReasonTypeNotAllowed,
			File:   f.Name,
			Detail: fmt.Sprintf("type %s is not allowed (allowed: %s)", f.MIME, strings.Join(v.rules.AllowedTypes, ", ")),
		}
	}

	if v.rules.MaxSizeMB > 0 {
		limit := int64(v.rules.MaxSizeMB * 1024 * 1024)
		if f.Size() > limit {
			return &Error{
				Reason: ReasonOversize,
				File:   f.Name,
				Detail: fmt.Sprintf("file size %s exceeds the %s limit", media.FormatBytes(f.Size()), media.FormatBytes(limit)),
			}
		}
	}

	if !v.rules.needsProbe() {
		return nil
	}

	info, err := v.probe(ctx, f)
	if err != nil {
		// A failed probe is its own rejection, never a silent pass.
		return &Error{
			Reason: ReasonProbeFailed,
			File:   f.Name,
			Detail: fmt.Sprintf("could not read image dimensions: %v", err),
		}
	}

	if detail := v.checkBounds(info); detail != "" {
		return &Error{Reason: ReasonDimensions, File: f.Name, Detail: detail}
	}
	return nil
}

// Probe returns the decoded header for a candidate, using the same cached
// fallback chain Validate uses.
func (v *Validator) Probe(ctx context.Context, f *media.File) (media.Info, error) {
	return v.probe(ctx, f)
}

func (v *Validator) checkBounds(info media.Info) string {
	if v.rules.MinWidth > 0 && info.Width < v.rules.MinWidth ||
		v.rules.MinHeight > 0 && info.Height < v.rules.MinHeight {
		return fmt.Sprintf("image is %dx%d, minimum is %dx%d",
			info.Width, info.Height, v.rules.MinWidth, v.rules.MinHeight)
	}
	if v.rules.MaxWidth > 0 && info.Width > v.rules.MaxWidth ||
		v.rules.MaxHeight > 0 && info.Height > v.rules.MaxHeight {
		return fmt.Sprintf("image is %dx%d, maximum is %dx%d",
			info.Width, info.Height, v.rules.MaxWidth, v.rules.MaxHeight)
	}
	return ""
}

func typeAllowed(mime string, allowed []string) bool {
	for _, t := range allowed {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == mime {
			return true
		}
		// image/jpg is a common alias in caller configs.
		if t == "image/jpg" && mime == "image/jpeg" {
			return true
		}
	}
	return false
}

func fileName(f *media.File) string {
	if f == nil {
		return ""
	}
	return f.Name
}
