package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReferenceChecker reports whether any post still points at a blob.
// repository.PostRepository satisfies it.
type ReferenceChecker interface {
	ImageReferenced(ctx context.Context, key, url string) (bool, error)
}

// SweeperConfig controls the orphan sweep.
type SweeperConfig struct {
	Bucket   string
	Interval time.Duration
	// Grace is how old a blob must be before it can be swept. It covers the
	// window between an upload and the insert of its post row.
	Grace time.Duration
}

// Sweeper periodically deletes blobs no post references. These are left
// behind when a post insert fails after its upload succeeded and the
// compensating delete failed too.
type Sweeper struct {
	store     Store
	refs      ReferenceChecker
	config    SweeperConfig
	logger    *slog.Logger
	now       func() time.Time
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(store Store, refs ReferenceChecker, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		refs:   refs,
		config: cfg,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start launches the background loop. Calling it twice is a no-op.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting orphan image sweeper",
			slog.String("bucket", s.config.Bucket),
			slog.Duration("interval", s.config.Interval),
			slog.Duration("grace", s.config.Grace),
		)
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down orphan image sweeper")
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-s.done:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("orphan sweep failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

// Sweep runs one pass and returns how many blobs it deleted. A blob whose
// reference check fails is kept.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	objects, err := s.store.List(ctx, s.config.Bucket)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.config.Grace)
	deleted := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if obj.ModTime.After(cutoff) {
			continue
		}

		referenced, err := s.refs.ImageReferenced(ctx, obj.Key, s.store.PublicURL(s.config.Bucket, obj.Key))
		if err != nil {
			s.logger.Warn("skipping blob, reference check failed",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if referenced {
			continue
		}

		if err := s.store.Delete(ctx, s.config.Bucket, obj.Key); err != nil {
			s.logger.Warn("failed to delete orphan blob",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
		s.logger.Info("deleted orphan blob", slog.String("key", obj.Key))
	}
	return deleted, nil
}
