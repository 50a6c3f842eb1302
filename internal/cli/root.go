// Package cli wires the command surface around the session engine.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/engine"
	"ragchat/internal/identity"
	"ragchat/internal/transcript"
)

type app struct {
	cfgPath   string
	serverURL string
	debug     bool

	cfg      *config.Config
	log      *zap.Logger
	idStore  identity.Store
	redisID  *identity.RedisStore
	localLog *transcript.Store
}

// Execute runs the root command.
func Execute() int {
	a := &app{}
	root := a.rootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Streaming chat client for an Ollama RAG backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to config.json")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "backend base URL (overrides config)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "verbose logging")

	root.AddCommand(
		a.chatCommand(),
		a.generateCommand(),
		a.historyCommand(),
		a.modelsCommand(),
		a.docCommand(),
		a.settingsCommand(),
		a.resetCommand(),
		a.stubCommand(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	a.cfg = cfg

	if a.debug {
		a.log, err = zap.NewDevelopment()
	} else {
		logCfg := zap.NewProductionConfig()
		logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		a.log, err = logCfg.Build()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	if cfg.Redis.Enabled {
		store, err := identity.NewRedisStore(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis identity store: %w", err)
		}
		a.redisID = store
		a.idStore = store
	} else {
		a.idStore = identity.NewFileStore(filepath.Join(cfg.StateDir, "chat_id"))
	}
	return nil
}

func (a *app) teardown() {
	if a.localLog != nil {
		a.localLog.Close()
		a.localLog = nil
	}
	if a.redisID != nil {
		a.redisID.Close()
		a.redisID = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// openTranscript opens the local transcript lazily; a failure degrades to
// running without one.
func (a *app) openTranscript() *transcript.Store {
	if a.localLog != nil {
		return a.localLog
	}
	if a.cfg.Transcript.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Transcript.DSN), 0o755); err != nil {
			a.log.Warn("create transcript dir", zap.Error(err))
			return nil
		}
	}
	store, err := transcript.Open(a.cfg.Transcript.Driver, a.cfg.Transcript.DSN)
	if err != nil {
		a.log.Warn("open transcript store", zap.Error(err))
		return nil
	}
	if err := store.Migrate(); err != nil {
		a.log.Warn("migrate transcript store", zap.Error(err))
		store.Close()
		return nil
	}
	a.localLog = store
	return store
}

// newEngine builds an engine bound to the persisted chat id.
func (a *app) newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	chatID, err := identity.GetOrCreate(cmd.Context(), a.idStore)
	if err != nil {
		return nil, fmt.Errorf("resolve chat id: %w", err)
	}
	return engine.New(engine.Options{
		Config:     a.cfg,
		ChatID:     chatID,
		Notifier:   newConsoleNotifier(cmd.OutOrStdout()),
		Transcript: a.openTranscript(),
		Logger:     a.log,
	}), nil
}
