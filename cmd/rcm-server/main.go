package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcm/rcm/internal/config"
	"github.com/rcm/rcm/internal/platform/audit"
	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/hipaa"
	"github.com/rcm/rcm/internal/platform/rbac"
	"github.com/rcm/rcm/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "rcm-server",
		Short:        "RCM security and compliance API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(rbacCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration and builds the process
// logger from it.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, logger)
		},
	}
}

func openMigrator(ctx context.Context, cfg *config.Config) (*db.Migrator, func(), error) {
	if !cfg.UsesDatabase() {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatuses(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the PHI encryption key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new random encryption key as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := hipaa.GenerateEncryptionKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the key at a source with a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			if source == "" {
				source = cfg.EncryptionKeySource
			}

			store, err := newKeyStore(cfg, logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repos, err := openRepositories(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer repos.Close()
			auditLogger := audit.NewLogger(repos.audit, nil, auditFileConfig(cfg), logger)
			defer auditLogger.Close()

			if _, err := store.Rotate(ctx, source, nil); err != nil {
				return err
			}
			auditLogger.LogSecurityEvent(ctx, nil, audit.EventKeyRotated, "PHI encryption key rotated",
				audit.WithMetadata(map[string]any{"key_version": cfg.EncryptionKeyVer + 1}))
			fmt.Fprintf(cmd.OutOrStdout(), "Key rotated. Set ENCRYPTION_KEY_VERSION=%d before restarting.\n", cfg.EncryptionKeyVer+1)
			return nil
		},
	}
	rotate.Flags().String("source", "", "Key source (env:NAME, vault:PATH or a file path); defaults to ENCRYPTION_KEY_SOURCE")
	cmd.AddCommand(rotate)

	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Manage roles and permissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create missing default permissions and system roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.UsesDatabase() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			ctx := cmd.Context()
			repos, err := openRepositories(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer repos.Close()

			mgr := rbac.NewManager(repos.rbac, nil, logger)
			if err := mgr.Initialize(ctx); err != nil {
				return err
			}
			roles, err := mgr.ListRoles(ctx)
			if err != nil {
				return err
			}
			for _, r := range roles {
				role, err := mgr.GetRole(ctx, r.ID)
				if err != nil {
					return err
				}
				if role == nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d permission(s)\n", role.Name, len(role.Permissions))
			}
			return nil
		},
	})

	return cmd
}
