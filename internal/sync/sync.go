// Package sync periodically exports the KV store as JSONL to backup
// destinations.
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/kv"
)

// Destination is a backup target (S3, a local file, a git repo).
type Destination interface {
	// Write stores the JSONL payload, replacing the previous backup.
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports a set of namespaces to its destinations on an interval.
type Scheduler struct {
	store        kv.Store
	namespaces   []string
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	stop context.CancelFunc
	done chan struct{}
}

// NewScheduler returns a scheduler exporting namespaces (DefaultNamespaces
// when empty) every interval. A nil logger means slog.Default().
func NewScheduler(s kv.Store, namespaces []string, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		namespaces:   namespaces,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start backs up once right away and then on every tick until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.RunOnce(ctx)
		if s.interval <= 0 {
			return
		}
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = s.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight backup. It is a no-op
// before Start.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
}

// RunOnce exports once and hands the result to every destination. Every
// destination is tried; their failures are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, s.namespaces, &buf); err != nil {
		s.logger.Error("backup export failed", "err", err)
		return err
	}

	var errs []error
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, buf.Bytes()); err != nil {
			s.logger.Error("backup write failed", "destination", fmt.Sprint(dest), "err", err)
			errs = append(errs, fmt.Errorf("%v: %w", dest, err))
		}
	}
	s.logger.Info("backup finished",
		"destinations", len(s.destinations),
		"failed", len(errs),
		"bytes", buf.Len(),
		"took", time.Since(start),
	)
	return errors.Join(errs...)
}
