package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"netopsbot/internal/channel"
	"netopsbot/internal/config"
	"netopsbot/internal/domain"
	"netopsbot/internal/parser"
	"netopsbot/internal/session"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "netopsbot",
		Short:         "netopsbot: chat-driven network device command router",
		Long:          "netopsbot reads short commands from a chat room and applies them to a router over RESTCONF, NETCONF, SSH or Ansible.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.netopsbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(parseCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one honoring
// general.logLevel and general.logFile. The returned func closes the file.
func setupLogger(cfg config.GeneralConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Writes a config template whose secrets reference environment variables (DEVICE_PASSWORD, ACCESS_TOKEN, ROOM_ID, ...).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Template()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			playbookDir := config.ExpandPath(cfg.Playbook.Dir)
			if err := os.MkdirAll(playbookDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "playbooks", playbookDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the command router on the configured chat channel",
		Long:  "Connects to the configured chat channel and answers device commands until Ctrl+C or a fatal transport error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			closeLog, err := setupLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			transport, err := channel.New(cfg.Channel, logger)
			if err != nil {
				return fmt.Errorf("channel: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRouter(ctx, cfg, transport)
		},
	}
}

func chatCmd() *cobra.Command {
	var attachDir string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Type commands in the terminal instead of a chat room",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
			}
			closeLog, err := setupLogger(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			transport := channel.NewCLI(channel.CLIConfig{
				In:            cmd.InOrStdin(),
				Out:           cmd.OutOrStdout(),
				Prompt:        "> ",
				AttachmentDir: attachDir,
				Logger:        logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRouter(ctx, cfg, transport)
		},
	}
	cmd.Flags().StringVar(&attachDir, "attachments", "", "directory to save attachments (e.g. running-config backups) into")
	return cmd
}

// readOnlyStore lets parse dry-runs see the sticky protocol without
// changing it.
type readOnlyStore struct {
	domain.SessionStore
}

func (readOnlyStore) SetLastProtocol(context.Context, domain.Protocol) error { return nil }

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text...>",
		Short: "Show how a chat message would be parsed (no device is contacted)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := session.Open(ctx, cfg.Session, cfg.General.DeviceID, logger)
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			defer store.Close()

			return printParse(ctx, cmd.OutOrStdout(), parser.New(cfg.General.DeviceID, readOnlyStore{store}), strings.Join(args, " "))
		},
	}
}

func printParse(ctx context.Context, out io.Writer, p *parser.Parser, text string) error {
	intent, err := p.Parse(ctx, text)
	if err != nil {
		if errors.Is(err, parser.ErrNotCommand) {
			fmt.Fprintf(out, "ignored: message does not start with %q\n", p.Prefix())
			return nil
		}
		var uerr *parser.UserError
		if errors.As(err, &uerr) {
			fmt.Fprintln(out, uerr.Error())
			return nil
		}
		return err
	}
	data, err := json.MarshalIndent(intent, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. restconf.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channel.type telegram)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := config.Update(cfgPath, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var paths bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if paths {
				printPaths(cmd.OutOrStdout(), config.Sanitize(cfg))
				return nil
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	listCmd.Flags().BoolVar(&paths, "paths", false, "print one settable dot path per line")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

// printPaths writes "path = value" lines sorted by path, in the form
// "config get" and "config set" accept.
func printPaths(out io.Writer, cfg *config.Config) {
	values := config.ListPaths(cfg)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, _ := json.Marshal(values[k])
		fmt.Fprintf(out, "%s = %s\n", k, data)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "netopsbot %s\n", version)
		},
	}
}
