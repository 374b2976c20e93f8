// Package supervisor runs the crawl as a child process and tracks its single
// current run.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/pkg/metrics"
)

var (
	ErrAlreadyRunning = errors.New("crawl is already running")
	ErrNotRunning     = errors.New("no crawl is running")
	ErrInvalidLogName = errors.New("invalid log file name")
	ErrLogNotFound    = errors.New("log file not found")
)

// CommandFactory builds the child process for a run writing to logFile.
type CommandFactory func(logFile string) *exec.Cmd

// SelfCommand re-executes the current binary with "crawl --log-file".
func SelfCommand(extraArgs ...string) CommandFactory {
	return func(logFile string) *exec.Cmd {
		args := append([]string{"crawl", "--log-file", logFile}, extraArgs...)
		cmd := exec.Command(os.Args[0], args...)
		cmd.Stderr = os.Stderr
		return cmd
	}
}

// Supervisor owns at most one running crawl process.
type Supervisor struct {
	logDir  string
	grace   time.Duration
	factory CommandFactory
	logger  *zap.Logger
	now     func() time.Time

	mu            sync.Mutex
	run           entity.Run
	cmd           *exec.Cmd
	done          chan struct{}
	stopRequested bool
}

// New creates an idle supervisor.
func New(logDir string, grace time.Duration, factory CommandFactory, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		logDir:  logDir,
		grace:   grace,
		factory: factory,
		logger:  logger,
		now:     time.Now,
		run:     entity.Run{State: entity.RunIdle},
	}
}

// Start launches a crawl unless one is running.
func (s *Supervisor) Start() (entity.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run.State == entity.RunRunning {
		return s.run, ErrAlreadyRunning
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return s.run, fmt.Errorf("create log dir: %w", err)
	}

	started := s.now()
	logFile := filepath.Join(s.logDir, fmt.Sprintf("spider_%s.log", started.Format("20060102_150405")))
	cmd := s.factory(logFile)
	if err := cmd.Start(); err != nil {
		return s.run, fmt.Errorf("start crawl: %w", err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	s.stopRequested = false
	s.run = entity.Run{
		ID:        uuid.New(),
		State:     entity.RunRunning,
		PID:       cmd.Process.Pid,
		LogFile:   logFile,
		StartedAt: &started,
	}
	s.logger.Info("crawl process started",
		zap.String("run_id", s.run.ID.String()),
		zap.Int("pid", s.run.PID),
		zap.String("log_file", logFile),
	)

	go s.wait(cmd, s.done)
	return s.run, nil
}

func (s *Supervisor) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	s.mu.Lock()
	finished := s.now()
	s.run.FinishedAt = &finished
	s.run.PID = 0
	switch {
	case s.stopRequested || err == nil:
		s.run.State = entity.RunStopped
	default:
		s.run.State = entity.RunFailed
	}
	if err != nil && !s.stopRequested {
		s.run.Err = err.Error()
	}
	run := s.run
	s.cmd = nil
	s.mu.Unlock()
	close(done)

	metrics.CrawlRunsTotal.WithLabelValues(string(run.State)).Inc()
	s.logger.Info("crawl process exited",
		zap.String("run_id", run.ID.String()),
		zap.String("state", string(run.State)),
		zap.String("error", run.Err),
	)
}

// Stop interrupts the running crawl and kills it if it has not exited
// within the grace period. It returns once the process is gone.
func (s *Supervisor) Stop(ctx context.Context) (entity.Run, error) {
	s.mu.Lock()
	if s.run.State != entity.RunRunning || s.cmd == nil {
		run := s.run
		s.mu.Unlock()
		return run, ErrNotRunning
	}
	s.stopRequested = true
	proc := s.cmd.Process
	done := s.done
	s.mu.Unlock()

	if err := proc.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("failed to interrupt crawl, killing", zap.Error(err))
		_ = proc.Kill()
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("crawl did not stop in time, killing", zap.Duration("grace", s.grace))
		_ = proc.Kill()
		<-done
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
	return s.Status(), nil
}

// Wait blocks until the current run, if any, has exited.
func (s *Supervisor) Wait(ctx context.Context) (entity.Run, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return s.Status(), nil
	}
	select {
	case <-done:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// Status returns a copy of the current run.
func (s *Supervisor) Status() entity.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// ListLogs returns the names of the run log files, oldest first.
func (s *Supervisor) ListLogs() ([]string, error) {
	entries, err := os.ReadDir(s.logDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadLog returns the content of one log file from the log directory.
func (s *Supervisor) ReadLog(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return nil, ErrInvalidLogName
	}
	data, err := os.ReadFile(filepath.Join(s.logDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", name, err)
	}
	return data, nil
}
