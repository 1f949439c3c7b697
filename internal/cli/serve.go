package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/genq/internal/config"
	"github.com/me/genq/internal/history"
	"github.com/me/genq/internal/logging"
	"github.com/me/genq/internal/provider"
	"github.com/me/genq/internal/server"
	"github.com/me/genq/pkg/engine"
	"github.com/me/genq/pkg/model"
)

func newServeCmd() *cobra.Command {
	var (
		flagConfig string
		flagAddr   string
		flagDB     string
		flagModel  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the genq server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if flagAddr != "" {
				cfg.Addr = flagAddr
			}
			if flagDB != "" {
				cfg.HistoryPath = flagDB
			}
			if flagModel != "" {
				cfg.Model = flagModel
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}

			log := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

			// Resolve journal path.
			dbPath := cfg.HistoryPath
			if dbPath == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				dir := filepath.Join(home, ".genq")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				dbPath = filepath.Join(dir, "history.db")
			}

			journal, err := history.Open(dbPath, log)
			if err != nil {
				return err
			}
			defer journal.Close()
			if err := journal.Migrate(cmd.Context()); err != nil {
				return err
			}

			gen, err := provider.NewOllama(cfg.OllamaHost, log)
			if err != nil {
				return err
			}

			eng := engine.New(gen, provider.StaticAllowance(cfg.BudgetTokens),
				engine.WithLogger(log),
				engine.WithConfig(engine.Config{
					PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
					BackoffBase:  time.Second,
				}),
				engine.WithHooks(engine.Hooks{
					OnTaskFinished: func(task model.Task, resp *model.GenerationResponse, err error) {
						rec := &history.Record{
							TaskID:     task.ID,
							Model:      task.Params.Model,
							Status:     history.StatusOf(err),
							RetryCount: task.RetryCount,
							CreatedAt:  task.CreatedAt,
							SettledAt:  time.Now().UTC(),
						}
						if err != nil {
							rec.Error = err.Error()
						}
						if resp != nil {
							rec.Output = resp.Text()
							rec.PromptTokens = resp.Usage.PromptTokens
							rec.OutputTokens = resp.Usage.OutputTokens
						}
						if ierr := journal.Insert(context.Background(), rec); ierr != nil {
							log.Error("journal insert", "task_id", task.ID, "error", ierr)
						}
					},
				}),
			)
			defer eng.Close()

			srv := server.New(cfg, eng, log, server.WithHistory(journal))
			httpSrv := &http.Server{
				Addr:    cfg.Addr,
				Handler: srv.Handler(),
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			errCh := make(chan error, 1)

			go func() {
				log.Info("server listening", "addr", cfg.Addr, "db", dbPath, "model", cfg.Model)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case sig := <-sigCh:
				log.Info("shutting down", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&flagDB, "db", "", "History database path (overrides config)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Default generation model (overrides config)")
	return cmd
}
