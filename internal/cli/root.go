// Package cli provides the command-line interface for the chat history service.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chathistory/internal/config"
	"chathistory/internal/logging"
	"chathistory/internal/storage"
)

// Version is set at build time.
var Version = "0.1.0"

type app struct {
	configPath string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree. Running it without a subcommand serves HTTP.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "chathistory",
		Short: "Chat history backend with LLM replies",
		Long: `chathistory stores conversations and their messages in SQLite (or MySQL)
and answers every new user message by forwarding the conversation history
to an OpenAI-compatible chat completion API.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
		RunE:              a.runServe,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("CHATHISTORY_CONFIG"), "config file (.json, .yaml)")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newInitCmd(a))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// openStore connects, creates the schema and seeds an empty store when enabled.
func (a *app) openStore(ctx context.Context) (*storage.Store, error) {
	driver := a.cfg.BasicConfig.Database
	store, err := storage.Open(driver, a.cfg.Database())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.logger.Info("database ready", zap.String("driver", store.Driver()))

	if a.cfg.BasicConfig.SeedOnStart {
		seeded, err := store.SeedIfEmpty(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed database: %w", err)
		}
		if seeded {
			a.logger.Info("seeded demo conversations")
		}
	}
	return store, nil
}
