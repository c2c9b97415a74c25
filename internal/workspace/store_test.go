package workspace

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/tabinfo"
)

// countingStore wraps a kv.Store and counts Set calls per key.
type countingStore struct {
	kv.Store
	mu   sync.Mutex
	sets map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: kv.NewMemory(), sets: make(map[string]int)}
}

func (c *countingStore) Set(ctx context.Context, values map[string]any) error {
	c.mu.Lock()
	for key := range values {
		c.sets[key]++
	}
	c.mu.Unlock()
	return c.Store.Set(ctx, values)
}

func (c *countingStore) setCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[key]
}

func newTestStore(t *testing.T) (*Store, *countingStore) {
	t.Helper()
	backing := newCountingStore()
	s := NewStore(backing, nil)
	var clock int64 = 1700000000000
	s.now = func() int64 {
		clock++
		return clock
	}
	return s, backing
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("fills defaults and persists", func(t *testing.T) {
		s, _ := newTestStore(t)

		c, err := s.Create(ctx, Context{Title: "research"}, true)

		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)
		assert.NotZero(t, c.Created)
		assert.NotNil(t, c.Tabs)
		assert.Equal(t, StateUnopened, c.State())

		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "research", got.Title)
	})

	t.Run("repeated calls create distinct contexts", func(t *testing.T) {
		s, _ := newTestStore(t)

		a, err := s.Create(ctx, Context{Title: "same"}, true)
		require.NoError(t, err)
		b, err := s.Create(ctx, Context{Title: "same"}, true)
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)

		all, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("persist=false writes nothing", func(t *testing.T) {
		s, _ := newTestStore(t)

		c, err := s.Create(ctx, Context{Title: "ephemeral"}, false)
		require.NoError(t, err)

		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("refreshes updated by default", func(t *testing.T) {
		s, _ := newTestStore(t)

		c, err := s.Create(ctx, Context{Title: "a"}, true)
		require.NoError(t, err)
		before := c.Updated

		require.NoError(t, s.Save(ctx, c, true))
		assert.Greater(t, c.Updated, before)
	})

	t.Run("suppressing the touch leaves updated alone", func(t *testing.T) {
		s, _ := newTestStore(t)

		c, err := s.Create(ctx, Context{Title: "a"}, true)
		require.NoError(t, err)
		before := c.Updated

		require.NoError(t, s.Save(ctx, c, false))
		assert.Equal(t, before, c.Updated)
	})
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	t.Run("empty id is nil, not an error", func(t *testing.T) {
		got, err := s.Get(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown id is nil, not an error", func(t *testing.T) {
		got, err := s.Get(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()

	t.Run("lists created contexts exactly once despite index drift", func(t *testing.T) {
		s, backing := newTestStore(t)

		c, err := s.Create(ctx, Context{Title: "survivor"}, true)
		require.NoError(t, err)

		// Simulate index drift: delete the key index entirely.
		require.NoError(t, backing.Remove(ctx, "contextKeys"))

		all, err := s.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, c.ID, all[0].ID)

		// The index was healed from the scan.
		values, err := backing.Get(ctx, "contextKeys")
		require.NoError(t, err)
		var keys []string
		require.NoError(t, json.Unmarshal(values["contextKeys"], &keys))
		assert.Equal(t, []string{Key(c.ID)}, keys)
	})

	t.Run("applies the predicate", func(t *testing.T) {
		s, _ := newTestStore(t)

		_, err := s.Create(ctx, Context{Title: "keep"}, true)
		require.NoError(t, err)
		_, err = s.Create(ctx, Context{Title: "drop"}, true)
		require.NoError(t, err)

		kept, err := s.List(ctx, func(c *Context) bool { return c.Title == "keep" })
		require.NoError(t, err)
		require.Len(t, kept, 1)
		assert.Equal(t, "keep", kept[0].Title)
	})

	t.Run("corrupted index does not block listing", func(t *testing.T) {
		s, backing := newTestStore(t)

		_, err := s.Create(ctx, Context{Title: "a"}, true)
		require.NoError(t, err)
		require.NoError(t, backing.Set(ctx, map[string]any{"contextKeys": "not-a-list"}))

		all, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	s, backing := newTestStore(t)

	c, err := s.Create(ctx, Context{Title: "doomed"}, true)
	require.NoError(t, err)
	require.NoError(t, s.SetOpenGroup(ctx, 11, c.ID))
	require.NoError(t, s.SaveData(ctx, c.ID, map[string]json.RawMessage{"items": json.RawMessage(`[]`)}))

	require.NoError(t, s.Remove(ctx, c))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	groups, err := s.OpenGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)

	data, err := s.GetData(ctx, c.ID)
	require.NoError(t, err)
	assert.NotContains(t, data, "items")

	values, err := backing.Get(ctx, "contextKeys")
	require.NoError(t, err)
	var keys []string
	require.NoError(t, json.Unmarshal(values["contextKeys"], &keys))
	assert.Empty(t, keys)
}

func TestStore_RemoveMany(t *testing.T) {
	ctx := context.Background()
	s, backing := newTestStore(t)

	var doomed []*Context
	for _, title := range []string{"one", "two", "three"} {
		c, err := s.Create(ctx, Context{Title: title}, true)
		require.NoError(t, err)
		doomed = append(doomed, c)
	}
	keeper, err := s.Create(ctx, Context{Title: "keeper"}, true)
	require.NoError(t, err)
	require.NoError(t, s.SetOpenGroup(ctx, 5, doomed[0].ID))

	indexWritesBefore := backing.setCount("contextKeys")

	require.NoError(t, s.RemoveMany(ctx, doomed))

	// One index rewrite, not one per context.
	assert.Equal(t, indexWritesBefore+1, backing.setCount("contextKeys"))

	values, err := backing.Get(ctx, "contextKeys")
	require.NoError(t, err)
	var keys []string
	require.NoError(t, json.Unmarshal(values["contextKeys"], &keys))
	assert.Equal(t, []string{Key(keeper.ID)}, keys)

	for _, c := range doomed {
		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	groups, err := s.OpenGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStore_Data(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	t.Run("missing record is an empty map", func(t *testing.T) {
		data, err := s.GetData(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("save stamps updated without touching the context record", func(t *testing.T) {
		c, err := s.Create(ctx, Context{Title: "holder"}, true)
		require.NoError(t, err)
		contextUpdated := c.Updated

		require.NoError(t, s.SaveData(ctx, c.ID, map[string]json.RawMessage{
			"queue": json.RawMessage(`["https://example.com/"]`),
		}))

		data, err := s.GetData(ctx, c.ID)
		require.NoError(t, err)
		assert.Contains(t, data, "queue")
		assert.Contains(t, data, "updated")

		reloaded, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, contextUpdated, reloaded.Updated)
	})
}

func TestStore_OpenGroups(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SetOpenGroup(ctx, 7, "ctx-a"))
	require.NoError(t, s.SetOpenGroup(ctx, 9, "ctx-b"))

	id, err := s.ContextIDForGroup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "ctx-a", id)

	id, err = s.ContextIDForGroup(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.RemoveOpenEntryFor(ctx, "ctx-a"))
	// Removing again is a safe no-op.
	require.NoError(t, s.RemoveOpenEntryFor(ctx, "ctx-a"))

	groups, err := s.OpenGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"9": "ctx-b"}, groups)
}

func TestContextState(t *testing.T) {
	c := &Context{ID: "x", Tabs: []tabinfo.Tab{}}
	assert.Equal(t, StateUnopened, c.State())

	c.Live = &Live{GroupID: 3}
	assert.Equal(t, StateOpen, c.State())
}
