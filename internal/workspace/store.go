package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/tabinfo"
)

// Store persists Context records and maintains the contextKeys and
// openGroups indexes. The indexes are loosely-consistent caches: the ground
// truth is the prefix-scanned set of context records, and List self-heals
// the key index against it on every full read.
//
// Store operations surface adapter errors to the caller unchanged; retries
// belong to the adapter or caller.
type Store struct {
	kv  kv.Store
	log *slog.Logger
	now func() int64
}

// NewStore creates a context store over the given key-value substrate.
func NewStore(store kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Store{
		kv:  store,
		log: logger,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Create builds a new context by merging the caller-supplied fields over the
// defaults (fresh id, created timestamp, empty tab list) and, when persist
// is set, appends its key to the index and writes the record. Repeated calls
// always create distinct contexts; dedup by title is the reconciler's job.
func (s *Store) Create(ctx context.Context, props Context, persist bool) (*Context, error) {
	c := props
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Created == 0 {
		c.Created = s.now()
	}
	if c.Tabs == nil {
		c.Tabs = []tabinfo.Tab{}
	}

	if persist {
		keys, err := s.contextKeys(ctx)
		if err != nil {
			return nil, err
		}
		key := Key(c.ID)
		if !contains(keys, key) {
			keys = append(keys, key)
			if err := s.kv.Set(ctx, map[string]any{keyContextKeys: keys}); err != nil {
				return nil, fmt.Errorf("update key index: %w", err)
			}
		}
		if err := s.Save(ctx, &c, true); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// Save writes the record at its key. Updated is refreshed unless
// touchUpdated is false. Last writer wins; there is no optimistic
// concurrency control.
func (s *Store) Save(ctx context.Context, c *Context, touchUpdated bool) error {
	if touchUpdated {
		c.Updated = s.now()
	}
	if err := s.kv.Set(ctx, map[string]any{Key(c.ID): c}); err != nil {
		return fmt.Errorf("save context %s: %w", c.ID, err)
	}
	return nil
}

// Get returns the context with the given id, or nil (not an error) when the
// id is empty or unknown.
func (s *Store) Get(ctx context.Context, id string) (*Context, error) {
	if id == "" {
		return nil, nil
	}
	key := Key(id)
	values, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get context %s: %w", id, err)
	}
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", id, err)
	}
	return &c, nil
}

// List prefix-scans the store for every context record, optionally filtered
// by pred, and self-heals the key index as a side effect: any discovered key
// missing from the index is appended. Entries are never removed here;
// removal is explicit. A corrupted or missing index never blocks listing.
func (s *Store) List(ctx context.Context, pred func(*Context) bool) ([]*Context, error) {
	all, err := s.kv.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan contexts: %w", err)
	}

	keys := decodeKeyIndex(all[keyContextKeys], s.log)

	var results []*Context
	healed := false
	for key, raw := range all {
		if !strings.HasPrefix(key, contextKeyPrefix) {
			continue
		}
		var c Context
		if err := json.Unmarshal(raw, &c); err != nil {
			s.log.Warn("skipping undecodable context record", "key", key, "error", err)
			continue
		}
		if pred == nil || pred(&c) {
			results = append(results, &c)
		}
		if !contains(keys, key) {
			keys = append(keys, key)
			healed = true
		}
	}

	if healed {
		s.log.Info("healed context key index", "keys", len(keys))
		if err := s.kv.Set(ctx, map[string]any{keyContextKeys: keys}); err != nil {
			// The index is only a cache; the listing itself is good.
			s.log.Warn("failed to rewrite context key index", "error", err)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Created != results[j].Created {
			return results[i].Created < results[j].Created
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Remove deletes the index entry, the stored record, and the derived-data
// record, and drops any stale openGroups entry pointing at the context.
// Bookmark folders are never touched.
func (s *Store) Remove(ctx context.Context, c *Context) error {
	if err := s.RemoveOpenEntryFor(ctx, c.ID); err != nil {
		return err
	}

	keys, err := s.contextKeys(ctx)
	if err != nil {
		return err
	}
	key := Key(c.ID)
	if filtered := without(keys, map[string]bool{key: true}); len(filtered) != len(keys) {
		if err := s.kv.Set(ctx, map[string]any{keyContextKeys: filtered}); err != nil {
			return fmt.Errorf("update key index: %w", err)
		}
	}

	if err := s.kv.Remove(ctx, key, DataKey(c.ID)); err != nil {
		return fmt.Errorf("remove context %s: %w", c.ID, err)
	}
	return nil
}

// RemoveMany removes every listed context, recomputing the key index and the
// openGroups map once rather than per item.
func (s *Store) RemoveMany(ctx context.Context, contexts []*Context) error {
	if len(contexts) == 0 {
		return nil
	}

	doomedKeys := make(map[string]bool, len(contexts))
	doomedIDs := make(map[string]bool, len(contexts))
	removeKeys := make([]string, 0, len(contexts)*2)
	for _, c := range contexts {
		doomedKeys[Key(c.ID)] = true
		doomedIDs[c.ID] = true
		removeKeys = append(removeKeys, Key(c.ID), DataKey(c.ID))
	}

	keys, err := s.contextKeys(ctx)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, map[string]any{keyContextKeys: without(keys, doomedKeys)}); err != nil {
		return fmt.Errorf("update key index: %w", err)
	}

	groups, err := s.OpenGroups(ctx)
	if err != nil {
		return err
	}
	changed := false
	for groupKey, contextID := range groups {
		if doomedIDs[contextID] {
			delete(groups, groupKey)
			changed = true
		}
	}
	if changed {
		if err := s.kv.Set(ctx, map[string]any{keyOpenGroups: groups}); err != nil {
			return fmt.Errorf("update open groups: %w", err)
		}
	}

	if err := s.kv.Remove(ctx, removeKeys...); err != nil {
		return fmt.Errorf("remove contexts: %w", err)
	}
	return nil
}

// GetData returns the derived-data record for a context, or an empty map
// when none exists.
func (s *Store) GetData(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	key := DataKey(id)
	values, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get context data %s: %w", id, err)
	}
	raw, ok := values[key]
	if !ok {
		return map[string]json.RawMessage{}, nil
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode context data %s: %w", id, err)
	}
	return data, nil
}

// SaveData writes a context's derived-data record, stamping its own updated
// time. The context record's updated timestamp is not touched.
func (s *Store) SaveData(ctx context.Context, id string, data map[string]json.RawMessage) error {
	if data == nil {
		return nil
	}
	stamp, err := json.Marshal(s.now())
	if err != nil {
		return fmt.Errorf("stamp context data: %w", err)
	}
	data["updated"] = stamp
	if err := s.kv.Set(ctx, map[string]any{DataKey(id): data}); err != nil {
		return fmt.Errorf("save context data %s: %w", id, err)
	}
	return nil
}

// OpenGroups returns the live-group-to-context index. A missing or
// undecodable index is an empty map, never an error.
func (s *Store) OpenGroups(ctx context.Context) (map[string]string, error) {
	values, err := s.kv.Get(ctx, keyOpenGroups)
	if err != nil {
		return nil, fmt.Errorf("get open groups: %w", err)
	}
	groups := map[string]string{}
	if raw, ok := values[keyOpenGroups]; ok {
		if err := json.Unmarshal(raw, &groups); err != nil {
			s.log.Warn("resetting undecodable open groups index", "error", err)
			return map[string]string{}, nil
		}
	}
	return groups, nil
}

// SetOpenGroup records that the given live group belongs to the context.
func (s *Store) SetOpenGroup(ctx context.Context, groupID int, contextID string) error {
	groups, err := s.OpenGroups(ctx)
	if err != nil {
		return err
	}
	groups[GroupKey(groupID)] = contextID
	if err := s.kv.Set(ctx, map[string]any{keyOpenGroups: groups}); err != nil {
		return fmt.Errorf("update open groups: %w", err)
	}
	return nil
}

// ContextIDForGroup resolves a live group id to its context id, or "" when
// the group is not tracked.
func (s *Store) ContextIDForGroup(ctx context.Context, groupID int) (string, error) {
	groups, err := s.OpenGroups(ctx)
	if err != nil {
		return "", err
	}
	return groups[GroupKey(groupID)], nil
}

// RemoveOpenEntryFor drops the openGroups entry mapping to the given
// context, if any. Removing an absent entry is a no-op, which makes close
// idempotent at the index level.
func (s *Store) RemoveOpenEntryFor(ctx context.Context, contextID string) error {
	groups, err := s.OpenGroups(ctx)
	if err != nil {
		return err
	}
	changed := false
	for groupKey, id := range groups {
		if id == contextID {
			delete(groups, groupKey)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.kv.Set(ctx, map[string]any{keyOpenGroups: groups}); err != nil {
		return fmt.Errorf("update open groups: %w", err)
	}
	return nil
}

// Now returns the store's current time in epoch milliseconds. The clock is
// shared with collaborators so tests can pin it.
func (s *Store) Now() int64 {
	return s.now()
}

func (s *Store) contextKeys(ctx context.Context) ([]string, error) {
	values, err := s.kv.Get(ctx, keyContextKeys)
	if err != nil {
		return nil, fmt.Errorf("get key index: %w", err)
	}
	return decodeKeyIndex(values[keyContextKeys], s.log), nil
}

func decodeKeyIndex(raw json.RawMessage, log *slog.Logger) []string {
	if raw == nil {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		log.Warn("ignoring undecodable context key index", "error", err)
		return nil
	}
	return keys
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func without(keys []string, doomed map[string]bool) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !doomed[k] {
			out = append(out, k)
		}
	}
	return out
}
