package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/codestream/internal/domain"
)

func backends(t *testing.T) map[string]domain.ExecutionStore {
	t.Helper()

	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), mr.Addr(), "test:execution:")
	require.NoError(t, err)

	ss, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	stores := map[string]domain.ExecutionStore{
		"memory": NewMemoryStore(),
		"redis":  rs,
		"sqlite": ss,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func newExecution(id string) *domain.Execution {
	return &domain.Execution{
		ID:        id,
		Code:      "print('hi')",
		Language:  domain.LanguagePython,
		Status:    domain.StatusPending,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("create and get", func(t *testing.T) {
				require.NoError(t, s.Create(ctx, newExecution("a")))

				got, err := s.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, "a", got.ID)
				assert.Equal(t, "print('hi')", got.Code)
				assert.Equal(t, domain.LanguagePython, got.Language)
				assert.Equal(t, domain.StatusPending, got.Status)
				assert.True(t, got.CreatedAt.Equal(newExecution("a").CreatedAt))
				assert.Nil(t, got.ExecutedAt)
				assert.Nil(t, got.ExecutionTimeMs)
			})

			t.Run("duplicate create", func(t *testing.T) {
				require.NoError(t, s.Create(ctx, newExecution("dup")))
				assert.ErrorIs(t, s.Create(ctx, newExecution("dup")), ErrExists)
			})

			t.Run("get missing", func(t *testing.T) {
				_, err := s.Get(ctx, "missing")
				assert.ErrorIs(t, err, domain.ErrNotFound)
			})

			t.Run("update", func(t *testing.T) {
				require.NoError(t, s.Create(ctx, newExecution("u")))
				at := time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)
				elapsed := 1500 * time.Millisecond

				updated, err := s.Update(ctx, "u", func(e *domain.Execution) error {
					e.ExecutedAt = &at
					e.Finish(domain.StatusOK, &elapsed)
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, domain.StatusOK, updated.Status)

				got, err := s.Get(ctx, "u")
				require.NoError(t, err)
				assert.Equal(t, domain.StatusOK, got.Status)
				require.NotNil(t, got.ExecutionTimeMs)
				assert.Equal(t, int64(1500), *got.ExecutionTimeMs)
				require.NotNil(t, got.ExecutedAt)
				assert.True(t, got.ExecutedAt.Equal(at))
			})

			t.Run("update error writes nothing", func(t *testing.T) {
				require.NoError(t, s.Create(ctx, newExecution("e")))
				boom := errors.New("boom")

				_, err := s.Update(ctx, "e", func(e *domain.Execution) error {
					e.Status = domain.StatusInterrupted
					return boom
				})
				assert.ErrorIs(t, err, boom)

				got, err := s.Get(ctx, "e")
				require.NoError(t, err)
				assert.Equal(t, domain.StatusPending, got.Status)
			})

			t.Run("update missing", func(t *testing.T) {
				_, err := s.Update(ctx, "missing", func(*domain.Execution) error { return nil })
				assert.ErrorIs(t, err, domain.ErrNotFound)
			})

			t.Run("concurrent finish applies once", func(t *testing.T) {
				require.NoError(t, s.Create(ctx, newExecution("race")))

				var (
					wg      sync.WaitGroup
					mu      sync.Mutex
					applied int
				)
				for _, status := range []domain.Status{domain.StatusOK, domain.StatusInterrupted, domain.StatusOK, domain.StatusInterrupted} {
					wg.Add(1)
					go func(status domain.Status) {
						defer wg.Done()
						_, err := s.Update(ctx, "race", func(e *domain.Execution) error {
							if e.Finish(status, nil) {
								mu.Lock()
								applied++
								mu.Unlock()
							}
							return nil
						})
						assert.NoError(t, err)
					}(status)
				}
				wg.Wait()

				got, err := s.Get(ctx, "race")
				require.NoError(t, err)
				assert.True(t, got.Status.Terminal())
				// A retried transaction may call fn again, but only one write wins.
				assert.GreaterOrEqual(t, applied, 1)
			})
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newExecution("c")))

	got, err := s.Get(ctx, "c")
	require.NoError(t, err)
	got.Status = domain.StatusOK

	again, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Backend: BackendSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Options{Backend: BackendRedis, RedisAddr: mr.Addr(), RedisPrefix: "p:"})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	s.Close()

	_, err = Open(ctx, Options{Backend: "etcd"})
	assert.Error(t, err)
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "127.0.0.1:1", "p:")
	assert.Error(t, err)
}
