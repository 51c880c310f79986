package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"resumebot/internal/bus"
	"resumebot/internal/config"
	"resumebot/internal/domain"
	"resumebot/internal/gateway"
	"resumebot/internal/store"
	enginesync "resumebot/internal/sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "resumebot",
		Short:   "resumebot: offline-first client for the resume assistant",
		Long:    "resumebot keeps chat history and saved resumes in a local cache and syncs them with the resume bot backend whenever it is reachable.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.resumebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(clearCmd())
	root.AddCommand(resumesCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

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

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// app bundles the wired-up sync layer for a single command invocation.
type app struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	updates *bus.InMemoryBus
	msgs    *enginesync.MessageEngine
	resumes *enginesync.ResumeEngine
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := store.New(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, err
	}
	gw := gateway.New(gateway.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	updates := bus.New(16, logger)

	return &app{
		cfg:     cfg,
		store:   st,
		updates: updates,
		msgs: enginesync.NewMessageEngine(enginesync.MessageEngineConfig{
			Store:    st,
			Gateway:  gw,
			Bus:      updates,
			Logger:   logger,
			PageSize: cfg.Storage.MessagePageSize,
		}),
		resumes: enginesync.NewResumeEngine(enginesync.ResumeEngineConfig{
			Store:   st,
			Gateway: gw,
			Bus:     updates,
			Logger:  logger,
		}),
	}, nil
}

func (a *app) Close() {
	a.updates.Close()
	a.store.Close()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and local cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "cache", cfg.Storage.DBPath)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat with the resume bot",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	convID := cfg.General.ConversationID
	out := os.Stdout

	// Render every message exactly once, whether it arrives from the
	// cache, a history refresh, a send, or an asynchronous bot reply.
	rendered := make(map[string]bool)
	go func() {
		for u := range a.updates.Subscribe() {
			if u.Kind != domain.UpdateMessages || u.ConversationID != convID {
				continue
			}
			for _, m := range u.Messages {
				if rendered[m.ID] {
					continue
				}
				rendered[m.ID] = true
				renderMessage(out, m)
			}
		}
	}()

	fmt.Fprintln(out, "resumebot chat. Type your message and press Enter. /clear wipes history, /quit exits.")
	a.msgs.Load(ctx, convID)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(out, "You> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit" || line == "/q":
			return nil
		case line == "/clear":
			if err := a.msgs.Clear(ctx, convID); err != nil {
				fmt.Fprintln(out, "! could not clear history:", err)
			} else {
				fmt.Fprintln(out, "history cleared")
			}
		default:
			if _, _, err := a.msgs.Send(ctx, convID, line); err != nil {
				fmt.Fprintln(out, "! delivery failed, message saved locally:", err)
			}
		}
		fmt.Fprint(out, "You> ")
	}
}

func renderMessage(out *os.File, m domain.Message) {
	who := "You"
	if m.Sender == domain.SenderBot {
		who = "Bot"
	}
	suffix := ""
	switch m.Status {
	case domain.StatusPending:
		suffix = " (sending...)"
	case domain.StatusFailed:
		suffix = " (not delivered)"
	}
	fmt.Fprintf(out, "\n[%s] %s> %s%s\n", m.CreatedAt.Format("15:04"), who, m.Text, suffix)
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the cached chat history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.msgs.Clear(context.Background(), cfg.General.ConversationID); err != nil {
				return err
			}
			logger.Info("chat history cleared", "conversation", cfg.General.ConversationID)
			return nil
		},
	}
}

func resumesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resumes",
		Short: "Manage saved resumes",
	}
	cmd.AddCommand(resumesListCmd())
	cmd.AddCommand(resumesShowCmd())
	cmd.AddCommand(resumesDownloadCmd())
	cmd.AddCommand(resumesShareCmd())
	cmd.AddCommand(resumesDeleteCmd())
	cmd.AddCommand(resumesEvictCmd())
	return cmd
}

func resumesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved resumes (cached immediately, refreshed from the backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			local := a.resumes.Load(ctx)
			printResumes("cached", local)

			// Load published the cached snapshot as the first update;
			// a second update means the remote listing arrived.
			refreshed, ok := waitForResumeUpdate(ctx, a.updates, 2,
				time.Duration(cfg.API.TimeoutSeconds)*time.Second+time.Second)
			if !ok {
				fmt.Println("\n(backend unreachable, cached data shown above)")
				return nil
			}
			printResumes("refreshed", refreshed)
			return nil
		},
	}
}

// waitForResumeUpdate reads resume updates from the bus until want of
// them arrived or the timeout expires, returning the last one.
func waitForResumeUpdate(ctx context.Context, updates *bus.InMemoryBus, want int, timeout time.Duration) ([]domain.Resume, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	seen := 0
	var last []domain.Resume
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case u, ok := <-updates.Subscribe():
			if !ok {
				return nil, false
			}
			if u.Kind != domain.UpdateResumes {
				continue
			}
			seen++
			last = u.Resumes
			if seen >= want {
				return last, true
			}
		}
	}
}

func printResumes(label string, resumes []domain.Resume) {
	fmt.Printf("\n%s (%d):\n", label, len(resumes))
	if len(resumes) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, r := range resumes {
		fmt.Printf("  %-36s  %-30s  updated %s\n",
			r.ID, r.Title, r.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func resumesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a cached resume document as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.store.Resumes(context.Background())
			if err != nil {
				return err
			}
			for _, r := range all {
				if r.ID != args[0] {
					continue
				}
				if len(r.Document) == 0 {
					fmt.Printf("%s: no cached document (run 'resumebot resumes list' to sync)\n", r.Title)
					return nil
				}
				var doc any
				if err := json.Unmarshal(r.Document, &doc); err != nil {
					return fmt.Errorf("cached document is not valid JSON: %w", err)
				}
				data, err := yaml.Marshal(doc)
				if err != nil {
					return err
				}
				fmt.Printf("# %s\n%s", r.Title, data)
				return nil
			}
			return fmt.Errorf("no cached resume with id %s", args[0])
		},
	}
}

func resumesDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download [id]",
		Short: "Fetch an exportable document for a resume",
		Args:  cobra.ExactArgs(1),
		RunE:  runResumeDocument,
	}
}

func resumesShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share [id]",
		Short: "Fetch a shareable document link for a resume",
		Args:  cobra.ExactArgs(1),
		RunE:  runResumeDocument,
	}
}

func runResumeDocument(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.resumes.Download(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(doc.URL)
	if doc.FileName != "" {
		logger.Info("document ready", "file", doc.FileName, "type", doc.MimeType)
	}
	return nil
}

func resumesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a resume from the backend, then from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.resumes.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("resume was NOT deleted: %w", err)
			}
			logger.Info("resume deleted", "id", args[0])
			return nil
		},
	}
}

func resumesEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Drop cached resumes the backend no longer lists",
		Long:  "Fetches the authoritative resume listing and deletes every cached resume absent from it. Nothing is deleted if the listing cannot be fetched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.resumes.Load(ctx)
			if _, ok := waitForResumeUpdate(ctx, a.updates, 2,
				time.Duration(cfg.API.TimeoutSeconds)*time.Second+time.Second); !ok {
				return fmt.Errorf("no complete listing from the backend, nothing evicted")
			}

			evicted, err := a.resumes.Evict(ctx)
			if err != nil {
				return err
			}
			if len(evicted) == 0 {
				fmt.Println("cache already matches the backend")
				return nil
			}
			for _, id := range evicted {
				fmt.Println("evicted", id)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			st, err := store.New(cfg.Storage.DBPath, logger)
			if err != nil {
				logger.Error("cache", "path", cfg.Storage.DBPath, "open", false, "err", err)
				return nil
			}
			defer st.Close()

			ctx := context.Background()
			msgs, _ := st.Messages(ctx, cfg.General.ConversationID, cfg.Storage.MessagePageSize)
			resumes, _ := st.Resumes(ctx)
			logger.Info("cache",
				"path", cfg.Storage.DBPath,
				"open", true,
				"messages", len(msgs),
				"resumes", len(resumes),
			)
			logger.Info("backend", "baseUrl", cfg.API.BaseURL)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. api.baseUrl)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. api.baseUrl http://bot.example.com)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				cfg = config.Defaults()
			}
			data, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	return cmd
}
