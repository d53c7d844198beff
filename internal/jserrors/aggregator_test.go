package jserrors_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/jserrors"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/testsupport"
)

const (
	stackA = "TypeError: x is undefined\n    at render (app.js:42:13)\n    at main (app.js:10:2)"
	stackB = "TypeError: x is undefined\n    at hydrate (app.js:99:5)\n    at main (app.js:10:2)"
)

func newTestAggregator(t *testing.T, maxPending int) (*jserrors.Aggregator, store.Store) {
	t.Helper()
	cfg := testsupport.TestConfig(t)
	if maxPending > 0 {
		cfg.ErrorMaxPending = maxPending
	}
	st := testsupport.SetupTestStore(t)
	return jserrors.NewAggregator(cfg, st, testsupport.Logger()), st
}

func TestHashGroupsByCallSite(t *testing.T) {
	// Same message and same second stack line merge.
	assert.Equal(t,
		jserrors.Hash("boom", "top A\n    at render (app.js:42:13)\nrest"),
		jserrors.Hash("boom", "top B\n    at render (app.js:42:13)\nother"))

	// A different call-site line never merges.
	assert.NotEqual(t,
		jserrors.Hash("boom", stackA),
		jserrors.Hash("boom", stackB))

	// Different messages never merge.
	assert.NotEqual(t,
		jserrors.Hash("boom", stackA),
		jserrors.Hash("crash", stackA))
}

func TestRecordDeduplicatesInMemory(t *testing.T) {
	a, _ := newTestAggregator(t, 0)

	a.Record("s1", "boom", stackA, "/home")
	a.Record("s2", "boom", stackA, "/pricing")
	a.Record("s1", "boom", stackB, "/home")

	assert.Equal(t, 2, a.PendingCount())
}

func TestFlushMergesCounts(t *testing.T) {
	a, st := newTestAggregator(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a.Record("s1", "boom", stackA, "/home")
	}
	a.Flush(ctx)

	record, err := st.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": jserrors.Hash("boom", stackA)})
	require.NoError(t, err)
	assert.EqualValues(t, 3, record.Int("count"))
	assert.Equal(t, "boom", record.String("message"))

	// A second batch increments the persisted counter.
	a.Record("s3", "boom", stackA, "/home")
	a.Record("s3", "boom", stackA, "/home")
	a.Flush(ctx)

	record, err = st.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": jserrors.Hash("boom", stackA)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, record.Int("count"))

	// Flushing with nothing pending changes nothing.
	a.Flush(ctx)
	record, err = st.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": jserrors.Hash("boom", stackA)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, record.Int("count"))
}

func TestDistinctCallSitesStayDistinct(t *testing.T) {
	a, st := newTestAggregator(t, 0)
	ctx := context.Background()

	a.Record("s1", "boom", stackA, "/home")
	a.Record("s1", "boom", stackB, "/home")
	a.Flush(ctx)

	recA, err := st.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": jserrors.Hash("boom", stackA)})
	require.NoError(t, err)
	recB, err := st.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": jserrors.Hash("boom", stackB)})
	require.NoError(t, err)
	assert.NotEqual(t, recA.ID(), recB.ID())
	assert.EqualValues(t, 1, recA.Int("count"))
	assert.EqualValues(t, 1, recB.Int("count"))
}

func TestCeilingForcesFlushBeforeInsert(t *testing.T) {
	a, st := newTestAggregator(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a.Record("s1", fmt.Sprintf("error %d", i), stackA, "/home")
	}
	require.Equal(t, 3, a.PendingCount())

	// The fourth distinct error forces a drain first; nothing is lost.
	a.Record("s1", "error 3", stackA, "/home")
	assert.Equal(t, 1, a.PendingCount())

	for i := 0; i < 3; i++ {
		_, err := st.FindOne(ctx, store.CollectionErrors,
			store.Filter{"hash": jserrors.Hash(fmt.Sprintf("error %d", i), stackA)})
		assert.NoError(t, err)
	}

	a.Flush(ctx)
	_, err := st.FindOne(ctx, store.CollectionErrors, store.Filter{"hash": jserrors.Hash("error 3", stackA)})
	assert.NoError(t, err)
}
