package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/backup"
	"github.com/user/autoria-crawler/pkg/config"
)

// NewBackupCmd creates the backup command.
func NewBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump the listing database with pg_dump",
		Long: `Backup writes DUMP_DIR/dump_<timestamp>.sql with pg_dump and uploads it to
S3_BUCKET when one is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newBackupService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			_, err = svc.Run(ctx)
			return err
		},
	}
}

func newBackupService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backup.Service, error) {
	var uploader backup.Uploader
	if cfg.S3.Bucket != "" {
		s3, err := backup.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		uploader = s3
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return backup.New(cfg.DatabaseURL, cfg.DumpDir, backup.PgDump, uploader, logger), nil
}
