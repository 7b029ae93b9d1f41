package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/temcen/fusionrec/internal/app"
	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/database"
	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/internal/validation"
	"github.com/temcen/fusionrec/pkg/models"
)

// session is what every subcommand runs against.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	svc    *services.Services
	close  func() error
}

var (
	loadConfig = config.Load

	// openServices connects to PostgreSQL and Redis the same way the server
	// does. Tests replace it with an in-memory assembly.
	openServices = func(cfg *config.Config, logger *logrus.Logger) (*services.Services, func() error, error) {
		db, err := database.New(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		validator, err := validation.NewSchemaValidator()
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to load JSON schemas: %w", err)
		}
		svc, err := services.New(cfg, logger, db, app.NewCommandDecoder(validator))
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		closer := func() error {
			if svc.EventBus != nil {
				svc.EventBus.Close()
			}
			return db.Close()
		}
		return svc, closer, nil
	}
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fusionctl",
		Short: "Operate the hybrid recommendation engine",
		Long: `fusionctl rebuilds the offline indexes and queries recommendations
using the same configuration as the server (config/app.yaml and environment).

With the in-memory index backend every invocation starts empty, so query
commands build all indexes first.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level")

	rootCmd.AddCommand(
		newRebuildCmd(),
		newRecommendCmd(),
		newSimilarCmd(),
		newPopularCmd(),
		newPurchasesCmd(),
		newStatsCmd(),
		newEvaluateCmd(),
	)
	return rootCmd
}

// openSession loads configuration and connects the services. When warm is
// set and indexes live in process memory, every index is built first.
func openSession(cmd *cobra.Command, warm bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	logger := app.NewLogger(cfg.Logging)
	logger.SetOutput(cmd.ErrOrStderr())

	svc, closer, err := openServices(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, svc: svc, close: closer}

	if warm && cfg.Index.Backend == "memory" {
		for _, kind := range models.IndexKinds() {
			if _, err := svc.Jobs.Rebuild(cmd.Context(), kind, "cli"); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to warm %s index: %w", kind, err)
			}
		}
	}
	return s, nil
}

func (s *session) Close() {
	if s.close == nil {
		return
	}
	if err := s.close(); err != nil {
		s.logger.WithError(err).Warn("Error closing connections")
	}
}

// render writes v as indented JSON with --json, otherwise calls text.
func render(cmd *cobra.Command, v interface{}, text func(w io.Writer)) error {
	out := cmd.OutOrStdout()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(out)
	return nil
}
