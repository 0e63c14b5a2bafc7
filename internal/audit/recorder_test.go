package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
	block   chan struct{}
	err     error
}

func (s *memorySink) Write(ctx context.Context, e *audit.Entry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestAsyncRecorder(t *testing.T) {
	t.Run("WritesBufferedEntriesOnClose", func(t *testing.T) {
		sink := &memorySink{}
		rec := audit.NewAsyncRecorder(sink, 8)

		for i := 0; i < 5; i++ {
			rec.Record(context.Background(), audit.Entry{Action: audit.ActionStartTest, ResourceID: uuid.New()})
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, rec.Close(ctx))
		assert.Equal(t, 5, sink.count())
	})

	t.Run("DropsWhenBufferIsFull", func(t *testing.T) {
		sink := &memorySink{block: make(chan struct{})}
		rec := audit.NewAsyncRecorder(sink, 1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				rec.Record(context.Background(), audit.Entry{Action: audit.ActionSubmitTest})
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Record blocked on a full buffer")
		}

		close(sink.block)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, rec.Close(ctx))
		// At most one entry in flight plus one buffered.
		assert.LessOrEqual(t, sink.count(), 2)
		assert.GreaterOrEqual(t, sink.count(), 1)
	})

	t.Run("SinkErrorIsSwallowed", func(t *testing.T) {
		sink := &memorySink{err: errors.New("db down")}
		rec := audit.NewAsyncRecorder(sink, 4)
		rec.Record(context.Background(), audit.Entry{Action: audit.ActionGradeAnswer})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, rec.Close(ctx))
		assert.Equal(t, 0, sink.count())
	})
}

func TestGormSink(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:audit_sink?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, audit.Migrate(db))

	tenantID := uuid.New()
	attemptID := uuid.New()
	sink := audit.NewGormSink(db)
	require.NoError(t, sink.Write(context.Background(), &audit.Entry{
		TenantID:     &tenantID,
		Action:       audit.ActionBackgroundScoreTest,
		ResourceType: audit.ResourceAttempt,
		ResourceID:   attemptID,
		Details:      map[string]interface{}{"score": 3},
		IP:           audit.BackgroundIP,
	}))

	var stored audit.Entry
	require.NoError(t, db.First(&stored, "resource_id = ?", attemptID).Error)
	assert.Equal(t, audit.ActionBackgroundScoreTest, stored.Action)
	assert.Equal(t, audit.BackgroundIP, stored.IP)
	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.Equal(t, json.Number("3"), stored.Details["score"])
}
