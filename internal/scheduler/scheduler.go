// Package scheduler fires the daily crawl and backup jobs.
package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

const (
	JobCrawl  = "crawl"
	JobBackup = "backup"
)

// Job is a zero-argument trigger.
type Job func()

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run_time"`
}

// Status is the scheduler state reported to the control surface.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type jobSpec struct {
	name string
	spec string
	run  Job
}

// Scheduler wraps a cron runner that can be started and stopped repeatedly.
type Scheduler struct {
	jobs     []jobSpec
	crawl    Job
	runNow   bool
	location *time.Location
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// Config holds the daily HH:MM times of both jobs.
type Config struct {
	SpiderTime   string
	DumpTime     string
	RunSpiderNow bool
	Location     *time.Location
}

// New validates the times and builds a stopped scheduler.
func New(cfg Config, crawl, backup Job, logger *zap.Logger) (*Scheduler, error) {
	crawlSpec, err := DailySpec(cfg.SpiderTime)
	if err != nil {
		return nil, fmt.Errorf("SPIDER_TIME: %w", err)
	}
	backupSpec, err := DailySpec(cfg.DumpTime)
	if err != nil {
		return nil, fmt.Errorf("DUMP_TIME: %w", err)
	}
	return newWithSpecs([]jobSpec{
		{name: JobCrawl, spec: crawlSpec, run: crawl},
		{name: JobBackup, spec: backupSpec, run: backup},
	}, cfg, crawl, logger), nil
}

func newWithSpecs(jobs []jobSpec, cfg Config, crawl Job, logger *zap.Logger) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		jobs:     jobs,
		crawl:    crawl,
		runNow:   cfg.RunSpiderNow,
		location: loc,
		logger:   logger,
	}
}

// DailySpec turns "HH:MM" into a five-field cron expression.
func DailySpec(clock string) (string, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return "", fmt.Errorf("invalid time %q, want HH:MM", clock)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("invalid hour in %q", clock)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("invalid minute in %q", clock)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// Start registers the jobs and starts firing them. With RunSpiderNow set the
// crawl job is also triggered once immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyRunning
	}

	log := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(log),
		cron.WithChain(cron.SkipIfStillRunning(log), cron.Recover(log)),
	)
	entries := make(map[string]cron.EntryID, len(s.jobs))
	for _, j := range s.jobs {
		run := j.run
		name := j.name
		id, err := c.AddFunc(j.spec, func() {
			s.logger.Info("scheduled job fired", zap.String("job", name))
			run()
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		entries[j.name] = id
	}
	c.Start()

	s.cron = c
	s.entries = entries
	s.logger.Info("scheduler started")

	if s.runNow && s.crawl != nil {
		go s.crawl()
	}
	return nil
}

// Stop halts the cron runner and waits for running jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = nil
	s.mu.Unlock()

	if c == nil {
		return ErrNotRunning
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Status reports whether the scheduler runs and when each job fires next.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.cron != nil, Jobs: make([]JobStatus, 0, len(s.jobs))}
	for _, j := range s.jobs {
		js := JobStatus{Name: j.name, Schedule: j.spec}
		if s.cron != nil {
			if e := s.cron.Entry(s.entries[j.name]); e.Valid() && !e.Next.IsZero() {
				next := e.Next
				js.NextRun = &next
			}
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// cronLogger routes cron's internal logging to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
