package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pixlift/internal/config"
	"pixlift/internal/crop"
	"pixlift/internal/media"
	"pixlift/internal/notification"
	"pixlift/internal/observability"
	"pixlift/internal/pipeline"
	"pixlift/internal/sources"
	"pixlift/internal/upload"
)

// upOptions carries the flags of one `pixlift up` run.
type upOptions struct {
	manifest string
	fromHTML string
	scope    string
	mode     string
	dryRun   bool
	noTUI    bool
}

func newUpCommand(cli *CLI) *cobra.Command {
	opts := &upOptions{}

	cmd := &cobra.Command{
		Use:   "up [files or globs]",
		Short: "📤 Validate, crop, compress and upload images",
		Long: `Run images through the ingestion pipeline.

In single mode each image opens an interactive crop dialog before it is
compressed and uploaded; Esc skips the current image, Ctrl+C stops the
run. In multiple mode the whole selection is validated, compressed in
parallel and committed atomically: one failed upload and nothing from
that batch is kept.

Examples:
  pixlift up avatar.png
  pixlift up 'shots/*.jpg' --mode multiple
  pixlift up -m images.yaml --scope launch-post
  pixlift up --from-html docs/index.html --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			return cli.runUp(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "YAML manifest of images to ingest")
	cmd.Flags().StringVar(&opts.fromHTML, "from-html", "", "Collect image sources from a local HTML file")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Key prefix for uploaded objects (overrides config)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Selection mode: single or multiple (overrides config)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run the full pipeline without persisting anything")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Skip the interactive crop dialog")

	return cmd
}

// fileResult is one row of the final report.
type fileResult struct {
	name    string
	url     string
	skipped bool
	err     error
}

// scopeGroup keeps candidates with distinct scopes apart so each batch lands
// under its own key prefix.
type scopeGroup struct {
	scope      string
	candidates []sources.Candidate
}

func groupByScope(cands []sources.Candidate, fallback string) []scopeGroup {
	var groups []scopeGroup
	index := make(map[string]int)
	for _, c := range cands {
		scope := c.Scope
		if scope == "" {
			scope = fallback
		}
		i, ok := index[scope]
		if !ok {
			i = len(groups)
			index[scope] = i
			groups = append(groups, scopeGroup{scope: scope})
		}
		groups[i].candidates = append(groups[i].candidates, c)
	}
	return groups
}

func collectCandidates(args []string, opts *upOptions) ([]sources.Candidate, error) {
	set := 0
	for _, picked := range []bool{len(args) > 0, opts.manifest != "", opts.fromHTML != ""} {
		if picked {
			set++
		}
	}
	if set == 0 {
		return nil, fmt.Errorf("nothing to ingest: pass files, --manifest or --from-html")
	}
	if set > 1 {
		return nil, fmt.Errorf("pass files, --manifest or --from-html, not a combination")
	}
	switch {
	case opts.manifest != "":
		return sources.FromManifest(opts.manifest)
	case opts.fromHTML != "":
		return sources.FromHTML(opts.fromHTML)
	default:
		return sources.FromArgs(args)
	}
}

func (cli *CLI) runUp(parent context.Context, args []string, opts *upOptions) error {
	candidates, err := collectCandidates(args, opts)
	if err != nil {
		return err
	}

	cfg := cli.config.Config()

	modeName := cfg.Mode
	if opts.mode != "" {
		modeName = opts.mode
	}
	var mode pipeline.Mode
	switch modeName {
	case "single":
		mode = pipeline.ModeSingle
	case "multiple":
		mode = pipeline.ModeMultiple
	default:
		return fmt.Errorf("unknown mode %q (want single or multiple)", modeName)
	}

	fallbackScope := cfg.Scope
	if opts.scope != "" {
		fallbackScope = opts.scope
	}

	useTUI := mode == pipeline.ModeSingle && !opts.noTUI && isTTY()
	if mode == pipeline.ModeSingle && !opts.noTUI && !isTTY() {
		fmt.Printf("%s no TTY available, committing full-frame crops\n", gray("·"))
	}
	if opts.dryRun {
		fmt.Printf("%s dry run: nothing will be persisted\n", cyan("🔍"))
	}

	uploader, err := cli.buildUploader(cfg, opts.dryRun)
	if err != nil {
		return err
	}
	notifier := cli.buildNotifier(cfg, useTUI)

	obsCfg, err := observability.LoadConfig(cfg.ObservabilityFile)
	if err != nil {
		cli.logger.Warn("observability config: %v", err)
		obsCfg = observability.DefaultConfig()
	}
	metrics, err := observability.NewMetricsCollector(obsCfg.Metrics)
	if err != nil {
		cli.logger.Warn("metrics disabled: %v", err)
		metrics = nil
	}
	tracer, err := observability.NewTracerProvider(obsCfg.Tracing)
	if err != nil {
		cli.logger.Warn("tracing disabled: %v", err)
		tracer = nil
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if tracer != nil {
			_ = tracer.Shutdown(shutdownCtx)
		}
		if metrics != nil {
			_ = metrics.Shutdown(shutdownCtx)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var results []fileResult
	aborted := false
	for _, group := range groupByScope(candidates, fallbackScope) {
		var groupResults []fileResult
		var groupErr error
		if mode == pipeline.ModeSingle {
			groupResults, groupErr = cli.runSingleGroup(ctx, cfg, group, uploader, notifier, metrics, tracer, useTUI)
		} else {
			groupResults, groupErr = cli.runBatchGroup(ctx, cfg, group, uploader, notifier, metrics, tracer)
		}
		results = append(results, groupResults...)
		// Ctrl+C inside the dialog surfaces as context.Canceled, not as a
		// signal on ctx; both stop the remaining groups. A failed batch
		// does not: later scopes still get their chance.
		if errors.Is(groupErr, context.Canceled) || ctx.Err() != nil {
			aborted = true
			break
		}
	}

	printReport(results, opts.dryRun, time.Since(start))

	if aborted {
		return fmt.Errorf("interrupted")
	}
	committed := 0
	failed := 0
	for _, r := range results {
		switch {
		case r.url != "":
			committed++
		case !r.skipped:
			failed++
		}
	}
	if committed == 0 && failed > 0 {
		return fmt.Errorf("no file was ingested")
	}
	return nil
}

// singleValue and multiValue guard the bound target values; the pipeline
// writes them from its own goroutines.
type singleValue struct {
	mu sync.Mutex
	v  string
}

func (s *singleValue) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *singleValue) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

type multiValue struct {
	mu sync.Mutex
	v  []string
}

func (m *multiValue) get() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.v...)
}

func (m *multiValue) set(v []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = v
}

func (cli *CLI) runSingleGroup(ctx context.Context, cfg *config.Config, group scopeGroup,
	uploader upload.Uploader, notifier *notification.Center,
	metrics *observability.MetricsCollector, tracer *observability.TracerProvider,
	useTUI bool) ([]fileResult, error) {

	value := &singleValue{}
	events := make(chan pipeline.Event, 64)

	var observer pipeline.Observer
	if useTUI {
		observer = func(ev pipeline.Event) {
			select {
			case events <- ev:
			default:
			}
		}
	} else {
		observer = cli.consoleObserver(nil, nil)
	}

	ctrl, err := pipeline.New(pipeline.Config{
		Mode:           pipeline.ModeSingle,
		Binding:        pipeline.SingleBinding(value.get, value.set),
		Rules:          cfg.Rules,
		Compression:    cfg.Compression.Options(),
		AspectRatio:    cfg.AspectRatio,
		Scope:          group.scope,
		Uploader:       uploader,
		PreviewEnabled: useTUI && cfg.Preview,
		Parallelism:    cfg.Parallelism,
		Notifier:       notifier,
		Observer:       observer,
		Logger:         cli.logger,
		Metrics:        metrics,
		Tracing:        tracer,
	})
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	var results []fileResult
	for _, cand := range group.candidates {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		f, err := media.Load(cand.Path)
		if err != nil {
			fmt.Printf("%s %s: %v\n", yellow("⚠️"), cand.Path, err)
			results = append(results, fileResult{name: cand.Path, skipped: true, err: err})
			continue
		}

		if err := ctrl.Select(ctx, f); err != nil {
			fmt.Printf("%s %s rejected: %v\n", red("❌"), f.Name, err)
			results = append(results, fileResult{name: f.Name, skipped: true, err: err})
			continue
		}

		initial := crop.FullImage()
		if cand.Region != nil {
			initial = *cand.Region
		}

		if useTUI {
			outcome, err := runCropTUI(ctx, ctrl, events, initial)
			switch outcome {
			case cropCommitted:
				fmt.Printf("%s %s → %s\n", green("✅"), f.Name, value.get())
				results = append(results, fileResult{name: f.Name, url: value.get()})
			case cropSkipped:
				fmt.Printf("%s %s skipped\n", gray("·"), f.Name)
				results = append(results, fileResult{name: f.Name, skipped: true})
			case cropFailed:
				fmt.Printf("%s %s failed: %v\n", red("❌"), f.Name, err)
				results = append(results, fileResult{name: f.Name, err: err})
			case cropAborted:
				return results, context.Canceled
			}
			continue
		}

		if err := ctrl.CommitCrop(ctx, initial); err != nil {
			fmt.Printf("%s %s failed: %v\n", red("❌"), f.Name, err)
			results = append(results, fileResult{name: f.Name, err: err})
			continue
		}
		fmt.Printf("%s %s → %s\n", green("✅"), f.Name, value.get())
		results = append(results, fileResult{name: f.Name, url: value.get()})
	}
	return results, nil
}

func (cli *CLI) runBatchGroup(ctx context.Context, cfg *config.Config, group scopeGroup,
	uploader upload.Uploader, notifier *notification.Center,
	metrics *observability.MetricsCollector, tracer *observability.TracerProvider) ([]fileResult, error) {

	value := &multiValue{}
	skipped := make(map[string]error)
	var skippedMu sync.Mutex

	ctrl, err := pipeline.New(pipeline.Config{
		Mode:        pipeline.ModeMultiple,
		Binding:     pipeline.MultiBinding(value.get, value.set),
		Rules:       cfg.Rules,
		Compression: cfg.Compression.Options(),
		Scope:       group.scope,
		Uploader:    uploader,
		Parallelism: cfg.Parallelism,
		Notifier:    notifier,
		Observer:    cli.consoleObserver(skipped, &skippedMu),
		Logger:      cli.logger,
		Metrics:     metrics,
		Tracing:     tracer,
	})
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	var results []fileResult
	files := make([]*media.File, 0, len(group.candidates))
	for _, cand := range group.candidates {
		f, err := media.Load(cand.Path)
		if err != nil {
			fmt.Printf("%s %s: %v\n", yellow("⚠️"), cand.Path, err)
			results = append(results, fileResult{name: cand.Path, skipped: true, err: err})
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return results, nil
	}

	if group.scope != "" {
		fmt.Printf("%s ingesting %d file(s) under %s\n", blue("📦"), len(files), bold(group.scope))
	} else {
		fmt.Printf("%s ingesting %d file(s)\n", blue("📦"), len(files))
	}

	before := len(value.get())
	if err := ctrl.Select(ctx, files...); err != nil {
		skippedMu.Lock()
		for _, f := range files {
			if reason, ok := skipped[f.Name]; ok {
				results = append(results, fileResult{name: f.Name, skipped: true, err: reason})
				continue
			}
			results = append(results, fileResult{name: f.Name, err: err})
		}
		skippedMu.Unlock()
		fmt.Printf("%s batch failed: %v\n", red("❌"), err)
		return results, err
	}

	appended := value.get()[before:]
	i := 0
	skippedMu.Lock()
	defer skippedMu.Unlock()
	for _, f := range files {
		if reason, ok := skipped[f.Name]; ok {
			results = append(results, fileResult{name: f.Name, skipped: true, err: reason})
			continue
		}
		url := ""
		if i < len(appended) {
			url = appended[i]
			i++
		}
		fmt.Printf("%s %s → %s\n", green("✅"), f.Name, url)
		results = append(results, fileResult{name: f.Name, url: url})
	}
	return results, nil
}

// consoleObserver prints pipeline progress for non-interactive runs. The
// skipped map, when given, collects per-file validation rejections for the
// report.
func (cli *CLI) consoleObserver(skipped map[string]error, mu *sync.Mutex) pipeline.Observer {
	return func(ev pipeline.Event) {
		switch {
		case ev.Err != nil && ev.Stage == pipeline.StageValidate && ev.File != "":
			if skipped != nil {
				mu.Lock()
				skipped[ev.File] = ev.Err
				mu.Unlock()
			}
			fmt.Printf("%s %s: %v\n", yellow("⚠️"), ev.File, ev.Err)
		case ev.Err == nil && ev.Stage == "":
			switch ev.State {
			case pipeline.StateCompressing:
				fmt.Printf("%s compressing...\n", blue("🗜️"))
			case pipeline.StateUploading:
				fmt.Printf("%s uploading...\n", blue("📤"))
			}
		case cli.verbose && ev.Stage == pipeline.StageCompress && ev.Progress == 100:
			fmt.Printf("  %s %s compressed\n", gray("·"), ev.File)
		}
	}
}

func (cli *CLI) buildUploader(cfg *config.Config, dryRun bool) (upload.Uploader, error) {
	if dryRun {
		return upload.NewMemoryStore(""), nil
	}
	if cfg.Endpoint != "" {
		var opts []upload.HTTPOption
		if cfg.AuthToken != "" {
			opts = append(opts, upload.WithAuthToken(cfg.AuthToken))
		}
		if cfg.UploadTimeoutSeconds > 0 {
			opts = append(opts, upload.WithTimeout(time.Duration(cfg.UploadTimeoutSeconds)*time.Second))
		}
		return upload.NewHTTP(cfg.Endpoint, opts...), nil
	}
	dir := cfg.TargetDir
	if dir == "" {
		dir = "data/uploads"
	}
	return upload.NewFilesystemStore(dir, cfg.PublicBaseURL)
}

// buildNotifier wires the delivery channels: the webhook when configured,
// and a stderr trail for non-interactive runs so redirected output still
// records outcomes.
func (cli *CLI) buildNotifier(cfg *config.Config, tui bool) *notification.Center {
	center := notification.NewCenter()
	if !tui {
		console := notification.NewLogChannel("console", os.Stderr)
		center.RegisterChannel(console, notification.ChannelConfig{
			Enabled:     true,
			MinPriority: notification.PriorityNormal,
			IsDefault:   true,
		})
	}
	if cfg.Notify.WebhookURL != "" {
		webhook := notification.NewWebhookChannel("webhook", cfg.Notify.WebhookURL,
			notification.WithHeaders(cfg.Notify.WebhookHeaders))
		center.RegisterChannel(webhook, notification.ChannelConfig{
			Enabled:     true,
			MinPriority: notification.ParsePriority(cfg.Notify.MinPriority),
			IsDefault:   true,
		})
	}
	return center
}
