package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"pixlift/internal/config"
	"pixlift/internal/logging"
)

var version = "1.0.0"

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Color definitions for CLI output
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI holds the command line interface state
type CLI struct {
	config  *config.Manager
	logger  logging.Logger
	verbose bool
	debug   bool

	configPath string
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "pixlift",
		Short: "🖼️  Image ingestion pipeline: validate, crop, compress, upload",
		Long: fmt.Sprintf(`%s

%s takes images from the command line, a manifest, or an HTML page,
validates them against configurable rules, optionally crops them in an
interactive terminal dialog, compresses them toward a target size and
uploads the result. Re-selecting while a run is in flight supersedes it;
a stale run can never overwrite a newer selection.

%s
  pixlift up photo.png                   # Ingest one image (crop dialog)
  pixlift up 'shots/*.jpg' --no-tui      # Batch without the TUI
  pixlift up -m images.yaml              # Ingest a manifest
  pixlift up --from-html page.html       # Pull <img> sources from a page
  pixlift up photo.png --dry-run         # Full pipeline, nothing persisted

  pixlift config list                    # Show configuration
  pixlift config set rules.max_size_mb 8 # Change a setting
  pixlift config init                    # Guided setup

%s
  • 📥 Sources - file globs, YAML manifests, HTML pages
  • ✂️  Interactive crop - pan and zoom in the terminal
  • 🗜️  Compression - resize and re-encode toward a byte target
  • 📤 Uploads - HTTP endpoint or local content-addressed store
  • 🔔 Notifications - terminal and webhook delivery`,
			bold("pixlift "+version),
			bold("pixlift"),
			bold("EXAMPLES:"),
			bold("FEATURES:")),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&cli.debug, "debug", "d", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&cli.configPath, "config", "", "Config file (default ~/.pixlift.json)")

	// Add subcommands
	rootCmd.AddCommand(newUpCommand(cli))
	rootCmd.AddCommand(newConfigCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	// Configure viper
	viper.SetConfigName(".pixlift")
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	return rootCmd
}

// initialize sets up the configuration manager and logging
func (cli *CLI) initialize() error {
	if err := viper.ReadInConfig(); err != nil && cli.debug {
		fmt.Printf("⚠️  Config file not found: %v\n", err)
	}

	if cli.config == nil {
		var (
			manager *config.Manager
			err     error
		)
		if cli.configPath != "" {
			manager, err = config.NewManagerAt(cli.configPath)
		} else {
			manager, err = config.NewManager()
		}
		if err != nil {
			return fmt.Errorf("failed to create config manager: %w", err)
		}
		if err := manager.Config().ApplyEnv(); err != nil {
			return fmt.Errorf("invalid environment override: %w", err)
		}
		cli.config = manager
	}

	if cli.logger == nil {
		logger := logging.NewComponentLogger("CLI")
		level := cli.config.Config().Log.Level
		if cli.debug {
			level = "debug"
		}
		logger.SetLevel(logging.ParseLevel(level))
		cli.logger = logger
	}
	return nil
}

// newVersionCommand creates the version subcommand
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", version)
		},
	}
}
