// Package audit records who did what to which attempt. Recording is best effort:
// it never blocks and never fails the operation being audited.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/config"
	"gorm.io/gorm"
)

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
}

type gormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) Sink {
	return &gormSink{db: db}
}

func (s *gormSink) Write(ctx context.Context, e *Entry) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

const writeTimeout = 5 * time.Second

// AsyncRecorder queues entries in a bounded buffer and writes them from a
// single background goroutine. When the buffer is full the entry is dropped.
type AsyncRecorder struct {
	sink    Sink
	entries chan Entry

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsyncRecorder(sink Sink, buffer int) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	r := &AsyncRecorder{
		sink:    sink,
		entries: make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) Record(ctx context.Context, e Entry) {
	select {
	case r.entries <- e:
	default:
		config.WithContext(ctx).WithFields(map[string]interface{}{
			"action":      e.Action,
			"resource_id": e.ResourceID,
		}).Warn("Audit buffer full, entry dropped")
	}
}

// Close stops accepting entries and waits until the buffered ones are written
// or ctx is done. Record must not be called after Close.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.entries) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for e := range r.entries {
		r.write(e)
	}
}

func (r *AsyncRecorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.sink.Write(ctx, &e); err != nil {
		config.Logger.WithError(err).WithFields(map[string]interface{}{
			"action":      e.Action,
			"resource_id": e.ResourceID,
		}).Error("Failed to write audit entry")
	}
}

type ipKey struct{}

// WithIP stores the caller's address for entries recorded under ctx.
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func IPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

type discard struct{}

func (discard) Record(context.Context, Entry) {}

// Discard drops every entry.
var Discard Recorder = discard{}
