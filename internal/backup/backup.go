// Package backup dumps the listing database with pg_dump and optionally ships
// the dump to object storage.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/autoria-crawler/pkg/metrics"
)

// ErrInProgress is returned when a dump is already being taken.
var ErrInProgress = errors.New("backup already in progress")

// Uploader stores a finished dump remotely.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// DumpCommand builds the process that writes a dump of databaseURL to outFile.
type DumpCommand func(ctx context.Context, databaseURL, outFile string) *exec.Cmd

// PgDump runs the pg_dump binary from PATH.
func PgDump(ctx context.Context, databaseURL, outFile string) *exec.Cmd {
	return exec.CommandContext(ctx, "pg_dump", "--dbname="+databaseURL, "-f", outFile)
}

// Result describes a finished backup.
type Result struct {
	File     string `json:"file"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
	Key      string `json:"key,omitempty"`
}

// Service takes database dumps one at a time.
type Service struct {
	databaseURL string
	dumpDir     string
	dump        DumpCommand
	uploader    Uploader
	logger      *zap.Logger
	now         func() time.Time

	mu sync.Mutex
}

// New creates a backup service. uploader may be nil.
func New(databaseURL, dumpDir string, dump DumpCommand, uploader Uploader, logger *zap.Logger) *Service {
	if dump == nil {
		dump = PgDump
	}
	return &Service{
		databaseURL: databaseURL,
		dumpDir:     dumpDir,
		dump:        dump,
		uploader:    uploader,
		logger:      logger,
		now:         time.Now,
	}
}

// Run writes dumps/dump_<ts>.sql and uploads it when an uploader is set.
// A failed upload leaves the local dump in place and is reported as an error.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrInProgress
	}
	defer s.mu.Unlock()

	res, err := s.run(ctx)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("backup failed", zap.Error(err))
		return res, err
	}
	metrics.BackupsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("backup finished",
		zap.String("file", res.File),
		zap.Int64("size", res.Size),
		zap.Bool("uploaded", res.Uploaded),
	)
	return res, nil
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	if s.databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	if err := os.MkdirAll(s.dumpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}

	name := fmt.Sprintf("dump_%s.sql", s.now().Format("20060102_150405"))
	out := filepath.Join(s.dumpDir, name)

	cmd := s.dump(ctx, s.databaseURL, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(out)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("pg_dump: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("pg_dump: %w", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, fmt.Errorf("stat dump: %w", err)
	}
	res := &Result{File: out, Size: info.Size()}

	if s.uploader == nil {
		return res, nil
	}
	f, err := os.Open(out)
	if err != nil {
		return res, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	key := path.Join("dumps", name)
	if err := s.uploader.Upload(ctx, key, f, "application/sql"); err != nil {
		return res, fmt.Errorf("upload dump: %w", err)
	}
	res.Uploaded = true
	res.Key = key
	return res, nil
}
