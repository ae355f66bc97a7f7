package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncOptions controls buffering and batching of the async storage.
type AsyncOptions struct {
	BufferSize     int           // events queued before Store falls back to a synchronous write
	BatchSize      int           // events per flush
	BatchTimeout   time.Duration // max wait for a partial batch
	StorageTimeout time.Duration // per-flush timeout against the wrapped storage
}

// AsyncStorage queues events and writes them in batches from a background
// goroutine. Audit is write-only for callers, so Store returns as soon as
// the event is queued.
type AsyncStorage struct {
	next    Storage
	log     *slog.Logger
	opts    AsyncOptions
	events  chan Event
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup
}

// NewAsyncStorage starts the background writer. Call Close on shutdown to
// drain queued events.
func NewAsyncStorage(next Storage, opts AsyncOptions, log *slog.Logger) *AsyncStorage {
	if next == nil {
		panic("audit: storage cannot be nil")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	s := &AsyncStorage{
		next:   next,
		log:    log,
		opts:   opts,
		events: make(chan Event, opts.BufferSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *AsyncStorage) Store(ctx context.Context, events ...Event) error {
	for i, e := range events {
		select {
		case <-s.done:
			return ErrStorageNotAvailable
		default:
		}

		select {
		case s.events <- e:
		case <-s.done:
			return ErrStorageNotAvailable
		default:
			// Buffer full: write synchronously rather than drop security events.
			return s.next.Store(ctx, events[i:]...)
		}
	}
	return nil
}

func (s *AsyncStorage) worker() {
	defer s.wg.Done()

	batch := make([]Event, 0, s.opts.BatchSize)
	ticker := time.NewTicker(s.opts.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.StorageTimeout)
		defer cancel()
		if err := s.next.Store(ctx, batch...); err != nil {
			s.log.ErrorContext(ctx, "audit batch write failed", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.events:
			batch = append(batch, e)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case e := <-s.events:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (s *AsyncStorage) Close(ctx context.Context) error {
	s.closing.Do(func() { close(s.done) })

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
