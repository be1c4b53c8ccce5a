package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"playerpoints/pkg/logger"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memOptions(retryLimit int) Options {
	return Options{
		Table:                "playerpoints",
		RetryLimit:           retryLimit,
		RetryInitialInterval: time.Microsecond,
		RetryMaxInterval:     10 * time.Microsecond,
		ConnectTimeout:       time.Second,
	}
}

func newMemStore(t *testing.T, retryLimit int) (*PointsStore, *memServer) {
	t.Helper()
	srv := newMemServer()
	s, err := New(context.Background(), srv.dial, memOptions(retryLimit), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, srv
}

func genPlayerID() gopter.Gen {
	return gen.Identifier().SuchThat(func(id string) bool {
		return len(id) <= MaxPlayerIDLength
	})
}

func TestPointsStoreProperties(t *testing.T) {
	ctx := context.Background()
	properties := gopter.NewProperties(nil)

	properties.Property("set then get returns the stored points", prop.ForAll(
		func(id string, points int32) bool {
			s, _ := newMemStore(t, 3)
			ok, err := s.SetPoints(ctx, id, int(points))
			if !ok || err != nil {
				return false
			}
			got, err := s.GetPoints(ctx, id)
			return err == nil && got == int(points)
		},
		genPlayerID(),
		gen.Int32(),
	))

	properties.Property("writing twice keeps one entry with the last value", prop.ForAll(
		func(id string, first, second int32) bool {
			s, srv := newMemStore(t, 3)
			_, _ = s.SetPoints(ctx, id, int(first))
			_, _ = s.SetPoints(ctx, id, int(second))
			got, _, err := s.LookupPoints(ctx, id)
			return err == nil && got == int(second) && srv.count() == 1
		},
		genPlayerID(),
		gen.Int32(),
		gen.Int32(),
	))

	properties.Property("unknown players have zero points and no entry", prop.ForAll(
		func(id string) bool {
			s, _ := newMemStore(t, 3)
			got, err := s.GetPoints(ctx, id)
			if err != nil || got != 0 {
				return false
			}
			_, found, err := s.LookupPoints(ctx, id)
			if err != nil || found {
				return false
			}
			exists, err := s.PlayerEntryExists(ctx, id)
			return err == nil && !exists
		},
		genPlayerID(),
	))

	properties.Property("remove after set clears the entry", prop.ForAll(
		func(id string, points int32) bool {
			s, _ := newMemStore(t, 3)
			if ok, _ := s.SetPoints(ctx, id, int(points)); !ok {
				return false
			}
			if ok, err := s.RemovePlayer(ctx, id); !ok || err != nil {
				return false
			}
			exists, _ := s.PlayerEntryExists(ctx, id)
			got, _ := s.GetPoints(ctx, id)
			return !exists && got == 0
		},
		genPlayerID(),
		gen.Int32(),
	))

	properties.Property("players are exactly the written minus the removed", prop.ForAll(
		func(written, removed []string) bool {
			s, _ := newMemStore(t, 3)
			want := map[string]struct{}{}
			for i, id := range written {
				if ok, _ := s.SetPoints(ctx, id, i); !ok {
					return false
				}
				want[id] = struct{}{}
			}
			for _, id := range removed {
				if ok, _ := s.RemovePlayer(ctx, id); !ok {
					return false
				}
				delete(want, id)
			}
			got, err := s.GetPlayers(ctx)
			if err != nil || len(got) != len(want) {
				return false
			}
			for id := range want {
				if _, ok := got[id]; !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genPlayerID()),
		gen.SliceOf(genPlayerID()),
	))

	properties.Property("invalid ids are rejected without creating entries", prop.ForAll(
		func(suffix string, points int32) bool {
			s, srv := newMemStore(t, 3)
			tooLong := strings.Repeat("x", MaxPlayerIDLength+1) + suffix
			for _, id := range []string{"", tooLong} {
				ok, err := s.SetPoints(ctx, id, int(points))
				if ok || err != nil {
					return false
				}
			}
			return srv.count() == 0
		},
		gen.AlphaString(),
		gen.Int32(),
	))

	properties.Property("outages within the retry limit recover with one reconnect per retry", prop.ForAll(
		func(outage int, points int32) bool {
			const limit = 3
			s, srv := newMemStore(t, limit)
			if ok, _ := s.SetPoints(ctx, "steve", int(points)); !ok {
				return false
			}
			dialsBefore := srv.dials.Load()
			srv.outage.Store(int32(outage))

			got, err := s.GetPoints(ctx, "steve")
			reconnects := int(srv.dials.Load() - dialsBefore)

			if outage <= limit {
				return err == nil && got == int(points) && reconnects == outage
			}
			return errors.Is(err, ErrUnavailable) && got == 0 && reconnects == limit
		},
		gen.IntRange(0, 6),
		gen.Int32(),
	))

	properties.Property("build is idempotent and keeps rows", prop.ForAll(
		func(id string, points int32) bool {
			s, _ := newMemStore(t, 0)
			_, _ = s.SetPoints(ctx, id, int(points))
			for i := 0; i < 2; i++ {
				if ok, err := s.Build(ctx); !ok || err != nil {
					return false
				}
			}
			got, err := s.GetPoints(ctx, id)
			return err == nil && got == int(points)
		},
		genPlayerID(),
		gen.Int32(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestConcurrentSetPointsSameID(t *testing.T) {
	ctx := context.Background()
	s, srv := newMemStore(t, 3)

	for round := 0; round < 50; round++ {
		id := fmt.Sprintf("racer-%d", round)
		var wg sync.WaitGroup
		results := make([]bool, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SetPoints(ctx, id, 100+i)
				assert.NoError(t, err)
				results[i] = ok
			}(i)
		}
		wg.Wait()

		for i, ok := range results {
			assert.True(t, ok, "writer %d", i)
		}
		got, found, err := s.LookupPoints(ctx, id)
		require.NoError(t, err)
		assert.True(t, found)
		assert.GreaterOrEqual(t, got, 100)
		assert.Less(t, got, 108)
	}
	assert.Equal(t, 50, srv.count())
}

func TestConcurrentCallersShareOneReconnect(t *testing.T) {
	ctx := context.Background()
	s, srv := newMemStore(t, 5)
	_, err := s.SetPoints(ctx, "alex", 7)
	require.NoError(t, err)

	dialsBefore := srv.dials.Load()
	srv.outage.Store(1)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.GetPoints(ctx, "alex")
			assert.NoError(t, err)
			assert.Equal(t, 7, got)
		}()
	}
	wg.Wait()

	// one broken handle, one replacement: later callers find it healthy
	assert.Equal(t, int32(1), srv.dials.Load()-dialsBefore)
}

func TestDestroyDropsEverything(t *testing.T) {
	ctx := context.Background()
	s, srv := newMemStore(t, 0)
	_, _ = s.SetPoints(ctx, "steve", 5)

	ok, err := s.Destroy(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, srv.count())

	ok, err = s.Destroy(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAdmin)

	ok, err = s.Build(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	players, err := s.GetPlayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestCanceledCallerKeepsSharedHandle(t *testing.T) {
	ctx := context.Background()
	s, srv := newMemStore(t, 3)
	_, err := s.SetPoints(ctx, "steve", 5)
	require.NoError(t, err)
	healthy := s.conn.Handle()

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	ok, err := s.Build(canceled)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAdmin)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.GetPoints(canceled, "steve")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Same(t, healthy, s.conn.Handle())
	got, err := s.GetPoints(ctx, "steve")
	require.NoError(t, err)
	assert.Equal(t, 5, got)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestRecordsOrdered(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemStore(t, 0)
	for id, pts := range map[string]int{"zed": 3, "amy": -4, "kim": 0} {
		_, err := s.SetPoints(ctx, id, pts)
		require.NoError(t, err)
	}

	records, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "amy", records[0].PlayerID)
	assert.Equal(t, -4, records[0].Points)
	assert.Equal(t, "kim", records[1].PlayerID)
	assert.Equal(t, "zed", records[2].PlayerID)
	assert.NotZero(t, records[0].ID)
}
