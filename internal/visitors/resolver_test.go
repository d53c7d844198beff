package visitors_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/store"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/testsupport"
	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/visitors"
)

// countingStore wraps a Store and counts Create calls, optionally holding
// them open on a barrier so tests can force overlap.
type countingStore struct {
	store.Store

	mu      sync.Mutex
	creates int
	barrier chan struct{}
}

func (s *countingStore) Create(ctx context.Context, collection string, fields store.Record) (store.Record, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	if s.barrier != nil {
		<-s.barrier
	}
	return s.Store.Create(ctx, collection, fields)
}

func (s *countingStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func TestResolveConcurrentCallersCreateOnce(t *testing.T) {
	backing := &countingStore{
		Store:   testsupport.SetupTestStore(t),
		barrier: make(chan struct{}),
	}
	resolver := visitors.NewResolver(testsupport.TestConfig(t), backing, testsupport.Logger())

	const callers = 25
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			visitor, _, err := resolver.Resolve(context.Background(), "fp-concurrent")
			require.NoError(t, err)
			ids[i] = visitor.ID
		}(i)
	}

	// Hold the first create open until every caller is issued, then let the
	// flight settle.
	time.Sleep(50 * time.Millisecond)
	close(backing.barrier)
	wg.Wait()

	assert.Equal(t, 1, backing.createCount(), "exactly one create must reach the store")
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "every caller must receive the same visitor")
	}
}

func TestResolveReturnsExistingVisitor(t *testing.T) {
	st := testsupport.SetupTestStore(t)
	cfg := testsupport.TestConfig(t)
	ctx := context.Background()

	created, err := st.Create(ctx, store.CollectionVisitors, store.Record{
		"site_id":     cfg.SiteID,
		"fingerprint": "fp-existing",
	})
	require.NoError(t, err)

	resolver := visitors.NewResolver(cfg, st, testsupport.Logger())
	visitor, isNew, err := resolver.Resolve(ctx, "fp-existing")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.ID(), visitor.ID)

	// Second call is served from the cache.
	again, isNew, err := resolver.Resolve(ctx, "fp-existing")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, visitor.ID, again.ID)
}

func TestResolveCreatesNewVisitor(t *testing.T) {
	st := testsupport.SetupTestStore(t)
	resolver := visitors.NewResolver(testsupport.TestConfig(t), st, testsupport.Logger())

	visitor, isNew, err := resolver.Resolve(context.Background(), "fp-new")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, visitor.ID)
	assert.Equal(t, "fp-new", visitor.Fingerprint)
}

// conflictStore simulates another process winning the creation race: Create
// always reports a conflict after inserting the record out of band.
type conflictStore struct {
	store.Store
}

func (s *conflictStore) Create(ctx context.Context, collection string, fields store.Record) (store.Record, error) {
	if _, err := s.Store.Create(ctx, collection, fields); err != nil {
		return nil, err
	}
	return nil, store.ErrConflict
}

func TestResolveRecoversFromCreationConflict(t *testing.T) {
	st := &conflictStore{Store: testsupport.SetupTestStore(t)}
	resolver := visitors.NewResolver(testsupport.TestConfig(t), st, testsupport.Logger())

	visitor, isNew, err := resolver.Resolve(context.Background(), "fp-conflict")
	require.NoError(t, err)
	assert.False(t, isNew, "a lost race is not a creation")
	assert.Equal(t, "fp-conflict", visitor.Fingerprint)
	assert.NotEmpty(t, visitor.ID)
}

func TestIdentifyAttachesTraits(t *testing.T) {
	st := testsupport.SetupTestStore(t)
	cfg := testsupport.TestConfig(t)
	resolver := visitors.NewResolver(cfg, st, testsupport.Logger())
	ctx := context.Background()

	visitor, err := resolver.Identify(ctx, "fp-identify", visitors.Identity{
		UserID: "user-42",
		Name:   "Ada",
		Email:  "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "user-42", visitor.UserID)

	record, err := st.FindOne(ctx, store.CollectionVisitors, store.Filter{"fingerprint": "fp-identify"})
	require.NoError(t, err)
	assert.Equal(t, "user-42", record.String("user_id"))
	assert.Equal(t, "Ada", record.String("name"))
	assert.Equal(t, "ada@example.com", record.String("email"))
}

func TestIdentifyValidation(t *testing.T) {
	st := testsupport.SetupTestStore(t)
	resolver := visitors.NewResolver(testsupport.TestConfig(t), st, testsupport.Logger())
	ctx := context.Background()

	_, err := resolver.Identify(ctx, "fp-v", visitors.Identity{})
	assert.Error(t, err, "user id is required")

	_, err = resolver.Identify(ctx, "fp-v", visitors.Identity{UserID: "u", Email: "not-an-email"})
	assert.Error(t, err)

	// Nothing may be created for rejected identities.
	_, err = st.FindOne(ctx, store.CollectionVisitors, store.Filter{"fingerprint": "fp-v"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuildFingerprint(t *testing.T) {
	a := visitors.BuildFingerprint("site", "1.2.3.4", "ua", "salt")
	assert.Len(t, a, 64)
	assert.Equal(t, a, visitors.BuildFingerprint("site", "1.2.3.4", "ua", "salt"))
	assert.NotEqual(t, a, visitors.BuildFingerprint("site", "1.2.3.5", "ua", "salt"))
	assert.NotEqual(t, a, visitors.BuildFingerprint("site", "1.2.3.4", "ua", "other"))
}
