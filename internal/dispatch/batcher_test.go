package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/dispatch"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/testsupport"
)

// recordingStore counts creates per collection and can fail specific sends.
type recordingStore struct {
	store.Store

	mu      sync.Mutex
	creates int
	failFor map[string]bool
}

func (s *recordingStore) Create(ctx context.Context, collection string, fields store.Record) (store.Record, error) {
	s.mu.Lock()
	s.creates++
	fail := s.failFor[fields.String("session_id")]
	s.mu.Unlock()

	if fail {
		return nil, errors.New("store unreachable")
	}
	return s.Store.Create(ctx, collection, fields)
}

func (s *recordingStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func newTestBatcher(t *testing.T, mutate func(*config.Config)) (*dispatch.Batcher, *recordingStore) {
	t.Helper()
	cfg := testsupport.TestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	st := &recordingStore{Store: testsupport.SetupTestStore(t), failFor: map[string]bool{}}
	return dispatch.NewBatcher(cfg, st, testsupport.Logger()), st
}

func event(sessionID string) store.Record {
	return store.Record{
		"site_id":    "site_test",
		"session_id": sessionID,
		"type":       "pageView",
		"path":       "/",
		"created_at": time.Now().UTC(),
	}
}

func TestEnqueueBelowBatchSizeDoesNotSend(t *testing.T) {
	b, st := newTestBatcher(t, func(cfg *config.Config) {
		cfg.BatchSize = 5
	})

	for i := 0; i < 4; i++ {
		b.Enqueue(event(fmt.Sprintf("s%d", i)))
	}
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 0, st.createCount())
}

func TestReachingBatchSizeTriggersOneFlush(t *testing.T) {
	b, st := newTestBatcher(t, func(cfg *config.Config) {
		cfg.BatchSize = 5
	})

	for i := 0; i < 5; i++ {
		b.Enqueue(event(fmt.Sprintf("s%d", i)))
	}

	require.Eventually(t, func() bool { return st.createCount() == 5 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.Len())
}

func TestHardCeilingForcesSynchronousFlush(t *testing.T) {
	b, st := newTestBatcher(t, func(cfg *config.Config) {
		// A batch size too large to ever trigger, so only the ceiling fires.
		cfg.BatchSize = 1000
		cfg.BatchQueueHardLimit = 5
	})

	for i := 0; i < 5; i++ {
		b.Enqueue(event(fmt.Sprintf("s%d", i)))
	}

	// The fifth enqueue hit the ceiling and drained on the caller.
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 5, st.createCount())
}

func TestDisabledBatchingSendsImmediately(t *testing.T) {
	b, st := newTestBatcher(t, func(cfg *config.Config) {
		cfg.BatchingEnabled = false
	})

	b.Enqueue(event("s1"))
	require.Eventually(t, func() bool { return st.createCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.Len())
}

func TestFlushFailureDropsOnlyTheFailedEvent(t *testing.T) {
	b, st := newTestBatcher(t, nil)
	st.failFor["s1"] = true

	b.Enqueue(event("s0"))
	b.Enqueue(event("s1"))
	b.Enqueue(event("s2"))
	b.Flush(context.Background())

	ctx := context.Background()
	_, err := st.FindOne(ctx, store.CollectionEvents, store.Filter{"session_id": "s0"})
	assert.NoError(t, err)
	_, err = st.FindOne(ctx, store.CollectionEvents, store.Filter{"session_id": "s1"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.FindOne(ctx, store.CollectionEvents, store.Filter{"session_id": "s2"})
	assert.NoError(t, err)

	// Dropped for good: a later flush must not retry it.
	b.Flush(ctx)
	assert.Equal(t, 3, st.createCount())
}

func TestCloseFlushesEverything(t *testing.T) {
	b, st := newTestBatcher(t, nil)

	b.Enqueue(event("s0"))
	b.Enqueue(event("s1"))
	b.Enqueue(event("s2"))
	b.Close(context.Background())

	assert.Equal(t, 3, st.createCount())
	assert.Equal(t, 0, b.Len())
}
