// Package stash persists whole windows: a stashed window becomes a session
// record mixing loose tabs with references to contexts, and a snapshot is a
// flat copy of a window's tabs taken before clearing it. Aged snapshots are
// swept into a cold archive. Every destructive step happens only after the
// durable write that captures what is being destroyed.
package stash

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/reconcile"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/tabinfo"
	"github.com/tabstash/tabstash/internal/workspace"
)

// Storage keys for stashed state.
const (
	keySessions = "sessions"
	keyWindows  = "windows"
	keyArchive  = "archive"
)

// Defaults for the stasher options.
const (
	DefaultRetention  = 7 * 24 * time.Hour
	DefaultNewTabURL  = "chrome://newtab/"
	DefaultDesktopURL = "chrome://newtab/"
)

// Entry is one element of a stashed session: either a loose tab captured
// with its live fields, or a reference to a context that owns the grouped
// tabs. Exactly one of the two is set.
type Entry struct {
	Tab       *tabinfo.Tab `json:"tab,omitempty"`
	ContextID string       `json:"contextId,omitempty"`
}

// Session is a stashed window. Entries are keyed by tab id for loose tabs
// and by context id for grouped ones.
type Session struct {
	WindowID int              `json:"windowId"`
	Entries  map[string]Entry `json:"tabs"`
	Stashed  int64            `json:"stashed"`
}

// Snapshot is a flat copy of a window's tabs, taken before the window is
// cleared down to a single desktop tab.
type Snapshot struct {
	ID          string        `json:"id"`
	Tabs        []tabinfo.Tab `json:"tabs"`
	CreatedAt   int64         `json:"createdAt"`
	IsOpen      bool          `json:"isOpen"`
	ActiveTabID int           `json:"activeTabId,omitempty"`
}

// Options tunes the stasher. Zero fields take the defaults.
type Options struct {
	// Retention is how long snapshots stay in the working list before a
	// sweep moves them to the archive.
	Retention time.Duration

	// DesktopURL is where the surviving active tab is pointed after a
	// snapshot clears its window.
	DesktopURL string

	// NewTabURL identifies throwaway new-tab pages, which snapshots skip.
	NewTabURL string
}

// Stasher persists and clears whole windows.
type Stasher struct {
	browser    browser.Browser
	kv         kv.Store
	contexts   *workspace.Store
	reconciler *reconcile.Reconciler
	log        *slog.Logger

	retention  time.Duration
	desktopURL string
	newTabURL  string
	now        func() int64
}

// New creates a stasher.
func New(b browser.Browser, store kv.Store, contexts *workspace.Store, rec *reconcile.Reconciler, opts Options, logger *slog.Logger) *Stasher {
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	if opts.DesktopURL == "" {
		opts.DesktopURL = DefaultDesktopURL
	}
	if opts.NewTabURL == "" {
		opts.NewTabURL = DefaultNewTabURL
	}
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Stasher{
		browser:    b,
		kv:         store,
		contexts:   contexts,
		reconciler: rec,
		log:        logger,
		retention:  opts.Retention,
		desktopURL: opts.DesktopURL,
		newTabURL:  opts.NewTabURL,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// StashWindow captures every tab of a window into a new session at the head
// of the session list, then removes the captured tabs. Loose tabs are stored
// inline with their live fields; grouped tabs are folded into their owning
// context (resolved or created on the fly), which is closed as part of the
// capture. With keepWindow set a fresh new-tab page is opened first so the
// window itself survives. A window with no tabs is a no-op.
func (s *Stasher) StashWindow(ctx context.Context, windowID int, keepWindow bool) (*Session, error) {
	tabs, err := s.browser.QueryTabs(ctx, browser.TabQuery{WindowID: windowID})
	if err != nil {
		return nil, fmt.Errorf("query window tabs: %w", err)
	}
	if len(tabs) == 0 {
		return nil, nil
	}

	entries := make(map[string]Entry, len(tabs))
	var groupOrder []int
	groupTabs := make(map[int][]browser.Tab)
	for _, t := range tabs {
		if t.GroupID <= 0 {
			tab := t
			info := tabinfo.Normalize(&tab, true)
			entries[strconv.Itoa(t.ID)] = Entry{Tab: &info}
			continue
		}
		if _, seen := groupTabs[t.GroupID]; !seen {
			groupOrder = append(groupOrder, t.GroupID)
		}
		groupTabs[t.GroupID] = append(groupTabs[t.GroupID], t)
	}

	closing := make([]*workspace.Context, 0, len(groupOrder))
	for _, groupID := range groupOrder {
		c, err := s.reconciler.ContextForGroup(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("resolve group %d: %w", groupID, err)
		}
		entries[c.ID] = Entry{ContextID: c.ID}
		closing = append(closing, c)
	}

	session := Session{
		WindowID: windowID,
		Entries:  entries,
		Stashed:  s.now(),
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	sessions = append([]Session{session}, sessions...)
	if err := s.kv.Set(ctx, map[string]any{keySessions: sessions}); err != nil {
		return nil, fmt.Errorf("save sessions: %w", err)
	}

	// Captured durably; now the destructive half.
	for _, c := range closing {
		if err := s.reconciler.Close(ctx, c); err != nil {
			return nil, err
		}
	}

	if keepWindow {
		if _, err := s.browser.CreateTab(ctx, browser.CreateTabOptions{
			WindowID: windowID,
			URL:      s.newTabURL,
			Active:   true,
		}); err != nil {
			return nil, fmt.Errorf("open replacement tab: %w", err)
		}
	}

	ids := make([]int, len(tabs))
	for i, t := range tabs {
		ids[i] = t.ID
	}
	if err := s.browser.RemoveTabs(ctx, ids...); err != nil {
		s.log.Warn("failed to remove stashed tabs", "window", windowID, "error", err)
	}

	s.log.Info("stashed window", "window", windowID, "entries", len(entries))
	return &session, nil
}

// SnapshotWindow records a window's tabs (new-tab pages excluded) at the
// head of the snapshot list, then clears the window: every non-active tab is
// removed and the active tab is pointed at the desktop page. A window with
// nothing but new-tab pages is a no-op and writes nothing.
func (s *Stasher) SnapshotWindow(ctx context.Context, windowID int) (*Snapshot, error) {
	tabs, err := s.browser.QueryTabs(ctx, browser.TabQuery{WindowID: windowID})
	if err != nil {
		return nil, fmt.Errorf("query window tabs: %w", err)
	}

	var kept []browser.Tab
	for _, t := range tabs {
		if t.URL == s.newTabURL {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	snapshot := Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
		Tabs:      make([]tabinfo.Tab, 0, len(kept)),
	}
	for _, t := range kept {
		tab := t
		snapshot.Tabs = append(snapshot.Tabs, tabinfo.Normalize(&tab, false))
		if t.Active {
			snapshot.ActiveTabID = t.ID
		}
	}

	snapshots, err := s.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	snapshots = append([]Snapshot{snapshot}, snapshots...)
	if err := s.kv.Set(ctx, map[string]any{keyWindows: snapshots}); err != nil {
		return nil, fmt.Errorf("save snapshots: %w", err)
	}

	var doomed []int
	for _, t := range kept {
		if t.ID != snapshot.ActiveTabID {
			doomed = append(doomed, t.ID)
		}
	}
	if len(doomed) > 0 {
		if err := s.browser.RemoveTabs(ctx, doomed...); err != nil {
			s.log.Warn("failed to clear snapshotted tabs", "window", windowID, "error", err)
		}
	}
	if snapshot.ActiveTabID != 0 {
		if _, err := s.browser.UpdateTab(ctx, snapshot.ActiveTabID, browser.TabUpdate{URL: &s.desktopURL}); err != nil {
			s.log.Warn("failed to repoint active tab", "tab", snapshot.ActiveTabID, "error", err)
		}
	}

	s.log.Info("snapshotted window", "window", windowID, "tabs", len(snapshot.Tabs))
	return &snapshot, nil
}

// Sweep moves snapshots older than the retention window into the archive and
// reports how many moved. Both lists are rewritten in a single combined
// write; when nothing aged out, nothing is written at all.
func (s *Stasher) Sweep(ctx context.Context) (int, error) {
	snapshots, err := s.Snapshots(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now() - s.retention.Milliseconds()
	keep := snapshots[:0]
	var aged []Snapshot
	for _, snap := range snapshots {
		if snap.CreatedAt < cutoff {
			aged = append(aged, snap)
			continue
		}
		keep = append(keep, snap)
	}
	if len(aged) == 0 {
		return 0, nil
	}

	archive, err := s.Archive(ctx)
	if err != nil {
		return 0, err
	}
	archive = append(archive, aged...)

	if err := s.kv.Set(ctx, map[string]any{
		keyWindows: keep,
		keyArchive: archive,
	}); err != nil {
		return 0, fmt.Errorf("save sweep: %w", err)
	}

	s.log.Info("swept snapshots to archive", "moved", len(aged), "kept", len(keep))
	return len(aged), nil
}

// Sessions returns the stashed sessions, newest first.
func (s *Stasher) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := s.load(ctx, keySessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Snapshots returns the working snapshot list, newest first.
func (s *Stasher) Snapshots(ctx context.Context) ([]Snapshot, error) {
	var snapshots []Snapshot
	if err := s.load(ctx, keyWindows, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Archive returns the archived snapshots, oldest first.
func (s *Stasher) Archive(ctx context.Context) ([]Snapshot, error) {
	var archive []Snapshot
	if err := s.load(ctx, keyArchive, &archive); err != nil {
		return nil, err
	}
	return archive, nil
}

func (s *Stasher) load(ctx context.Context, key string, out any) error {
	values, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	raw, ok := values[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
