// Package reconcile drives contexts between their two lifecycle states by
// reconciling stored records against live browser state. Open materializes a
// stored context as a tab-group; close folds the live group back into the
// record. Durable writes happen before destructive live mutations, so a crash
// mid-transition loses tabs from the screen, never from storage.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tabstash/tabstash/internal/bookmarks"
	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/tabinfo"
	"github.com/tabstash/tabstash/internal/workspace"
)

// Sentinel errors for lifecycle transitions.
var (
	ErrUnknownContext = errors.New("unknown context")
	ErrNotOpen        = errors.New("context is not open")
)

// Defaults for the reconciler options.
const (
	DefaultNewTabURL  = "chrome://newtab/"
	DefaultCloseDelay = 200 * time.Millisecond
)

// Options tunes reconciler behavior.
type Options struct {
	// NewTabURL is the URL opened when a context has no tabs to restore.
	NewTabURL string

	// CloseDelay is the pause between persisting a close and removing the
	// live tabs, giving the browser time to settle group events.
	CloseDelay time.Duration
}

// Reconciler owns the open/close lifecycle of contexts.
type Reconciler struct {
	browser  browser.Browser
	contexts *workspace.Store
	folders  *bookmarks.Manager
	log      *slog.Logger

	newTabURL  string
	closeDelay time.Duration
	sleep      func(time.Duration)
}

// New creates a reconciler. Zero option fields take the defaults.
func New(b browser.Browser, contexts *workspace.Store, folders *bookmarks.Manager, opts Options, logger *slog.Logger) *Reconciler {
	if opts.NewTabURL == "" {
		opts.NewTabURL = DefaultNewTabURL
	}
	if opts.CloseDelay == 0 {
		opts.CloseDelay = DefaultCloseDelay
	}
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Reconciler{
		browser:    b,
		contexts:   contexts,
		folders:    folders,
		log:        logger,
		newTabURL:  opts.NewTabURL,
		closeDelay: opts.CloseDelay,
		sleep:      time.Sleep,
	}
}

// Open materializes the stored context as a live tab-group. With windowID
// zero a new window is created (matching the context's incognito flag);
// otherwise the group is built in the given window. Opening a context whose
// recorded group is still live and still mapped to it is a no-op.
//
// The restored tabs come from the stored tab list, falling back to the
// context's bookmark folder, falling back to a single new-tab page. The
// record and the openGroups index are written before the window's placeholder
// tab is removed.
func (r *Reconciler) Open(ctx context.Context, id string, windowID int) (*workspace.Context, error) {
	c, err := r.contexts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("open %s: %w", id, ErrUnknownContext)
	}

	if c.Live != nil {
		mapped, err := r.contexts.ContextIDForGroup(ctx, c.Live.GroupID)
		if err != nil {
			return nil, err
		}
		if mapped == c.ID && r.tryGroup(ctx, c.Live.GroupID) != nil {
			r.log.Debug("context already open", "context", c.ID, "group", c.Live.GroupID)
			return c, nil
		}
	}

	var placeholderID int
	if windowID == 0 {
		win, err := r.browser.CreateWindow(ctx, browser.CreateWindowOptions{
			Incognito: c.IsIncognito,
			Focused:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("create window: %w", err)
		}
		windowID = win.ID
		if existing, err := r.browser.QueryTabs(ctx, browser.TabQuery{WindowID: win.ID}); err == nil && len(existing) == 1 {
			placeholderID = existing[0].ID
		}
	}

	tabs, err := r.tabsToRestore(ctx, c)
	if err != nil {
		return nil, err
	}

	created := make([]int, 0, len(tabs))
	for _, t := range tabs {
		tab, err := r.browser.CreateTab(ctx, browser.CreateTabOptions{
			WindowID: windowID,
			URL:      t.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("restore tab %q: %w", t.URL, err)
		}
		created = append(created, tab.ID)
	}

	groupID, err := r.browser.GroupTabs(ctx, browser.GroupOptions{TabIDs: created, WindowID: windowID})
	if err != nil {
		return nil, fmt.Errorf("group restored tabs: %w", err)
	}

	live := &workspace.Live{GroupID: groupID}
	if c.ActiveTabIndex >= 0 && c.ActiveTabIndex < len(created) {
		activeID := created[c.ActiveTabIndex]
		if _, err := r.browser.UpdateTab(ctx, activeID, browser.TabUpdate{Active: boolPtr(true)}); err != nil {
			r.log.Warn("failed to focus restored tab", "context", c.ID, "tab", activeID, "error", err)
		} else {
			live.ActiveTabID = activeID
		}
	}

	c.Live = live
	c.Closed = 0
	c.IsCollapsed = false
	if err := r.contexts.Save(ctx, c, true); err != nil {
		return nil, err
	}
	if err := r.contexts.SetOpenGroup(ctx, groupID, c.ID); err != nil {
		return nil, err
	}

	if _, err := r.browser.UpdateTabGroup(ctx, groupID, browser.TabGroupUpdate{
		Title: &c.Title,
		Color: colorPtr(c.Color),
	}); err != nil {
		r.log.Warn("failed to style tab group", "context", c.ID, "group", groupID, "error", err)
	}

	if placeholderID != 0 {
		if err := r.browser.RemoveTabs(ctx, placeholderID); err != nil {
			r.log.Warn("failed to remove placeholder tab", "tab", placeholderID, "error", err)
		}
	}

	r.log.Info("opened context", "context", c.ID, "group", groupID, "tabs", len(created))
	return c, nil
}

// Close folds a context back into its stored record: Closed is stamped, the
// active tab id is frozen into an index over the stored tab order (-1 when
// that tab is not in the order), the live fields are dropped in one piece,
// and the openGroups entry is removed. The live tabs are not touched; that
// is CloseTabGroup's job.
func (r *Reconciler) Close(ctx context.Context, c *workspace.Context) error {
	c.Closed = r.contexts.Now()
	c.ActiveTabIndex = -1
	if c.Live != nil && c.Live.ActiveTabID != 0 {
		for i, t := range c.Tabs {
			if t.ID == c.Live.ActiveTabID {
				c.ActiveTabIndex = i
				break
			}
		}
	}
	c.Live = nil
	c.IsCollapsed = false

	if err := r.contexts.Save(ctx, c, true); err != nil {
		return err
	}
	if err := r.contexts.RemoveOpenEntryFor(ctx, c.ID); err != nil {
		return err
	}
	r.log.Info("closed context", "context", c.ID)
	return nil
}

// CloseTabGroup closes the live tab-group: the owning context (when one is
// tracked) is synced from the live tabs and closed first, then the tabs are
// removed after a short delay. An untracked group still gets its tabs
// removed. A non-positive group id is a no-op.
func (r *Reconciler) CloseTabGroup(ctx context.Context, groupID int) error {
	if groupID <= 0 {
		return nil
	}

	tabs, err := r.browser.QueryTabs(ctx, browser.TabQuery{GroupID: groupID})
	if err != nil {
		return fmt.Errorf("query group tabs: %w", err)
	}

	contextID, err := r.contexts.ContextIDForGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if contextID != "" {
		c, err := r.contexts.Get(ctx, contextID)
		if err != nil {
			return err
		}
		// The index may point at a removed context; close only what exists.
		if c != nil {
			r.syncLiveTabs(c, tabs, groupID)
			if err := r.Close(ctx, c); err != nil {
				return err
			}
		}
	}

	if len(tabs) == 0 {
		return nil
	}

	r.sleep(r.closeDelay)

	ids := make([]int, len(tabs))
	for i, t := range tabs {
		ids[i] = t.ID
	}
	if err := r.browser.RemoveTabs(ctx, ids...); err != nil {
		r.log.Warn("failed to remove group tabs", "group", groupID, "error", err)
	}
	return nil
}

// CreateFromGroup adopts a live tab-group as a brand-new persisted context,
// already open: title, color, and collapsed state come from the group,
// incognito from its window, and the tab list from the live tabs.
func (r *Reconciler) CreateFromGroup(ctx context.Context, groupID int) (*workspace.Context, error) {
	group, err := r.browser.GetTabGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get tab group %d: %w", groupID, err)
	}

	tabs, err := r.browser.QueryTabs(ctx, browser.TabQuery{GroupID: groupID})
	if err != nil {
		return nil, fmt.Errorf("query group tabs: %w", err)
	}

	incognito := false
	if win, err := r.browser.GetWindow(ctx, group.WindowID); err == nil {
		incognito = win.Incognito
	}

	props := workspace.Context{
		Title:       group.Title,
		Color:       group.Color,
		IsIncognito: incognito,
		IsCollapsed: group.Collapsed,
		Tabs:        make([]tabinfo.Tab, 0, len(tabs)),
		Live:        &workspace.Live{GroupID: groupID},
	}
	for _, t := range tabs {
		tab := t
		props.Tabs = append(props.Tabs, tabinfo.Normalize(&tab, false))
		if t.Active {
			props.Live.ActiveTabID = t.ID
		}
	}

	c, err := r.contexts.Create(ctx, props, true)
	if err != nil {
		return nil, err
	}
	if err := r.contexts.SetOpenGroup(ctx, groupID, c.ID); err != nil {
		return nil, err
	}

	r.log.Info("created context from group", "context", c.ID, "group", groupID, "tabs", len(tabs))
	return c, nil
}

// FindExistingForGroup looks for a stored context matching a live group by
// title. An untitled group never matches anything.
func (r *Reconciler) FindExistingForGroup(ctx context.Context, group *browser.TabGroup) (*workspace.Context, error) {
	if group == nil || group.Title == "" {
		return nil, nil
	}
	matches, err := r.contexts.List(ctx, func(c *workspace.Context) bool {
		return c.Title == group.Title
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// ContextForGroup resolves a live group to its context, in order: the
// openGroups index, a title match (which adopts the group onto the stored
// context), and finally a brand-new context created from the group.
func (r *Reconciler) ContextForGroup(ctx context.Context, groupID int) (*workspace.Context, error) {
	contextID, err := r.contexts.ContextIDForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if contextID != "" {
		c, err := r.contexts.Get(ctx, contextID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
		// Stale index entry; fall through to re-resolve.
	}

	if group := r.tryGroup(ctx, groupID); group != nil {
		existing, err := r.FindExistingForGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Live = &workspace.Live{GroupID: groupID}
			if err := r.contexts.Save(ctx, existing, true); err != nil {
				return nil, err
			}
			if err := r.contexts.SetOpenGroup(ctx, groupID, existing.ID); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	return r.CreateFromGroup(ctx, groupID)
}

// MoveToNewWindow moves an open context's tab-group into a fresh window.
func (r *Reconciler) MoveToNewWindow(ctx context.Context, c *workspace.Context) error {
	if c.Live == nil {
		return fmt.Errorf("move %s: %w", c.ID, ErrNotOpen)
	}

	win, err := r.browser.CreateWindow(ctx, browser.CreateWindowOptions{
		Incognito: c.IsIncognito,
		Focused:   true,
	})
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}

	var placeholderID int
	if existing, err := r.browser.QueryTabs(ctx, browser.TabQuery{WindowID: win.ID}); err == nil && len(existing) == 1 {
		placeholderID = existing[0].ID
	}

	if err := r.browser.MoveTabGroup(ctx, c.Live.GroupID, win.ID, -1); err != nil {
		return fmt.Errorf("move tab group: %w", err)
	}

	if placeholderID != 0 {
		if err := r.browser.RemoveTabs(ctx, placeholderID); err != nil {
			r.log.Warn("failed to remove placeholder tab", "tab", placeholderID, "error", err)
		}
	}
	return nil
}

// syncLiveTabs refreshes the stored tab list and active tab from the live
// group before a close freezes them.
func (r *Reconciler) syncLiveTabs(c *workspace.Context, tabs []browser.Tab, groupID int) {
	if len(tabs) == 0 {
		return
	}
	synced := make([]tabinfo.Tab, 0, len(tabs))
	activeID := 0
	for _, t := range tabs {
		tab := t
		synced = append(synced, tabinfo.Normalize(&tab, false))
		if t.Active {
			activeID = t.ID
		}
	}
	c.Tabs = synced
	if c.Live == nil {
		c.Live = &workspace.Live{GroupID: groupID}
	}
	if activeID != 0 {
		c.Live.ActiveTabID = activeID
	}
}

// tabsToRestore decides what tabs an opening context materializes.
func (r *Reconciler) tabsToRestore(ctx context.Context, c *workspace.Context) ([]tabinfo.Tab, error) {
	if len(c.Tabs) > 0 {
		return c.Tabs, nil
	}
	if r.folders != nil {
		saved, err := r.folders.ContextTabs(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(saved) > 0 {
			return saved, nil
		}
	}
	return []tabinfo.Tab{{URL: r.newTabURL}}, nil
}

func (r *Reconciler) tryGroup(ctx context.Context, id int) *browser.TabGroup {
	group, err := r.browser.GetTabGroup(ctx, id)
	if err != nil {
		return nil
	}
	return group
}

func boolPtr(b bool) *bool { return &b }

func colorPtr(c string) *string {
	if c == "" {
		return nil
	}
	return &c
}
