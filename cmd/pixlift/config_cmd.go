package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"pixlift/internal/config"
)

// newConfigCommand creates the config subcommand
func newConfigCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "⚙️ Configuration management",
		Long:  "Manage pixlift configuration settings",
	}

	// config list
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			fmt.Printf("%s %s\n\n", bold("Configuration"), gray(cli.config.Path()))
			for _, key := range config.Keys() {
				value, err := cli.config.Get(key)
				if err != nil {
					continue
				}
				display := fmt.Sprintf("%v", value)
				if display == "" {
					display = gray("(unset)")
				}
				if key == "auth_token" && display != gray("(unset)") {
					display = gray("********")
				}
				fmt.Printf("  %s: %s\n", cyan(key), display)
			}
			return nil
		},
	})

	// config get
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Show one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			value, err := cli.config.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%v\n", value)
			return nil
		},
	})

	// config set
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a configuration value",
		Long: `Change a configuration value and persist it.

Examples:
  pixlift config set endpoint https://images.example.com/upload
  pixlift config set rules.max_size_mb 8
  pixlift config set rules.allowed_types image/png,image/jpeg
  pixlift config set compression.quality 90
  pixlift config set mode multiple

Run 'pixlift config list' for the full set of keys.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			if err := cli.config.Set(args[0], args[1]); err != nil {
				fmt.Printf("%s Failed to set %s: %v\n", red("❌"), args[0], err)
				return err
			}
			fmt.Printf("%s Set %s = %s\n", green("✅"), bold(args[0]), args[1])
			return nil
		},
	})

	// config path
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show where the config file lives",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			fmt.Println(cli.config.Path())
			return nil
		},
	})

	// config init - guided setup
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Guided setup",
		Long:  "Walk through the common settings interactively and persist them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			if !isTTY() {
				return fmt.Errorf("config init needs a terminal; use 'pixlift config set' instead")
			}
			return cli.runInitWizard()
		},
	})

	return cmd
}

// runInitWizard walks the common settings with interactive prompts. Every
// answer goes through Manager.Set so the same validation applies as on the
// command line.
func (cli *CLI) runInitWizard() error {
	fmt.Printf("%s\n\n", bold("pixlift setup"))
	cfg := cli.config.Config()

	modeSelect := promptui.Select{
		Label:     "Selection mode",
		Items:     []string{"single", "multiple"},
		CursorPos: modeCursor(cfg.Mode),
	}
	_, mode, err := modeSelect.Run()
	if err != nil {
		return err
	}
	if err := cli.config.Set("mode", mode); err != nil {
		return err
	}

	endpointPrompt := promptui.Prompt{
		Label:     "Upload endpoint (empty keeps files local)",
		Default:   cfg.Endpoint,
		AllowEdit: true,
	}
	endpoint, err := endpointPrompt.Run()
	if err != nil {
		return err
	}
	if err := cli.config.Set("endpoint", strings.TrimSpace(endpoint)); err != nil {
		return err
	}

	if strings.TrimSpace(endpoint) != "" {
		tokenPrompt := promptui.Prompt{
			Label: "Auth token (empty for none)",
			Mask:  '*',
		}
		token, err := tokenPrompt.Run()
		if err != nil {
			return err
		}
		if token != "" {
			if err := cli.config.Set("auth_token", token); err != nil {
				return err
			}
		}
	} else {
		dirPrompt := promptui.Prompt{
			Label:     "Local upload directory",
			Default:   defaultString(cfg.TargetDir, "data/uploads"),
			AllowEdit: true,
		}
		dir, err := dirPrompt.Run()
		if err != nil {
			return err
		}
		if err := cli.config.Set("target_dir", strings.TrimSpace(dir)); err != nil {
			return err
		}
	}

	sizePrompt := promptui.Prompt{
		Label:     "Max accepted file size in MB (0 for no limit)",
		Default:   strconv.FormatFloat(cfg.Rules.MaxSizeMB, 'f', -1, 64),
		AllowEdit: true,
		Validate: func(s string) error {
			_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return err
		},
	}
	size, err := sizePrompt.Run()
	if err != nil {
		return err
	}
	if err := cli.config.Set("rules.max_size_mb", strings.TrimSpace(size)); err != nil {
		return err
	}

	qualityPrompt := promptui.Prompt{
		Label:     "JPEG quality (1-100)",
		Default:   strconv.Itoa(cfg.Compression.Quality),
		AllowEdit: true,
		Validate: func(s string) error {
			_, err := strconv.Atoi(strings.TrimSpace(s))
			return err
		},
	}
	quality, err := qualityPrompt.Run()
	if err != nil {
		return err
	}
	if err := cli.config.Set("compression.quality", strings.TrimSpace(quality)); err != nil {
		return err
	}

	webhookPrompt := promptui.Prompt{
		Label:     "Notification webhook URL (empty for none)",
		Default:   cfg.Notify.WebhookURL,
		AllowEdit: true,
	}
	webhook, err := webhookPrompt.Run()
	if err != nil {
		return err
	}
	if err := cli.config.Set("notify.webhook_url", strings.TrimSpace(webhook)); err != nil {
		return err
	}

	fmt.Printf("\n%s Configuration saved to %s\n", green("✅"), cli.config.Path())
	return nil
}

func modeCursor(mode string) int {
	if mode == "multiple" {
		return 1
	}
	return 0
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
