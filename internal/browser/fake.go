package browser

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Fake is an in-memory Browser for tests. It models just enough of the real
// surface to exercise the engine: windows created with a single new-tab page,
// group membership on tabs, a flat bookmark tree, and grantable permissions.
//
// Individual operations can be forced to fail via FailWith, which is how
// tests simulate adapter/transport failures.
type Fake struct {
	mu sync.Mutex

	windows   map[int]*Window
	tabs      map[int]*Tab
	tabOrder  []int
	groups    map[int]*TabGroup
	bookmarks map[string]*Bookmark
	history   []HistoryItem

	permissions    map[string]bool
	grantOnRequest map[string]bool

	failures map[string]error

	nextWindowID   int
	nextTabID      int
	nextGroupID    int
	nextBookmarkID int

	// NewTabURL is the URL given to the placeholder tab of a new window.
	NewTabURL string

	// RemovedTabs records every tab id passed to RemoveTabs, in order.
	RemovedTabs []int
}

// NewFake returns an empty fake browser.
func NewFake() *Fake {
	return &Fake{
		windows:        make(map[int]*Window),
		tabs:           make(map[int]*Tab),
		groups:         make(map[int]*TabGroup),
		bookmarks:      make(map[string]*Bookmark),
		permissions:    make(map[string]bool),
		grantOnRequest: make(map[string]bool),
		failures:       make(map[string]error),
		NewTabURL:      "chrome://newtab/",
	}
}

// FailWith makes the named operation (e.g. "CreateBookmark") return err until
// cleared with a nil err.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// GrantPermission marks a permission as already granted.
func (f *Fake) GrantPermission(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions[name] = true
}

// GrantOnRequest makes RequestPermission succeed for the named permission.
func (f *Fake) GrantOnRequest(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantOnRequest[name] = true
}

// AddHistory seeds history items returned by SearchHistory.
func (f *Fake) AddHistory(items ...HistoryItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, items...)
}

// AddWindow creates a window without a placeholder tab and returns it.
func (f *Fake) AddWindow(incognito bool) *Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addWindowLocked(incognito)
}

func (f *Fake) addWindowLocked(incognito bool) *Window {
	f.nextWindowID++
	w := &Window{ID: f.nextWindowID, Incognito: incognito}
	f.windows[w.ID] = w
	return w
}

// AddTab creates a tab in the given window and returns it.
func (f *Fake) AddTab(windowID int, t Tab) *Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addTabLocked(windowID, t)
}

func (f *Fake) addTabLocked(windowID int, t Tab) *Tab {
	f.nextTabID++
	t.ID = f.nextTabID
	t.WindowID = windowID
	if t.GroupID == 0 {
		t.GroupID = NoGroup
	}
	t.Index = f.windowTabCountLocked(windowID)
	tab := t
	f.tabs[tab.ID] = &tab
	f.tabOrder = append(f.tabOrder, tab.ID)
	return &tab
}

func (f *Fake) windowTabCountLocked(windowID int) int {
	n := 0
	for _, id := range f.tabOrder {
		if t, ok := f.tabs[id]; ok && t.WindowID == windowID {
			n++
		}
	}
	return n
}

// AddGroup creates a tab-group and assigns the given tabs to it.
func (f *Fake) AddGroup(windowID int, title, color string, tabIDs ...int) *TabGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextGroupID++
	g := &TabGroup{ID: f.nextGroupID, WindowID: windowID, Title: title, Color: color}
	f.groups[g.ID] = g
	for _, id := range tabIDs {
		if t, ok := f.tabs[id]; ok {
			t.GroupID = g.ID
		}
	}
	return g
}

// SetActiveTab marks a tab active and deactivates its window siblings.
func (f *Fake) SetActiveTab(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[id]
	if !ok {
		return
	}
	for _, other := range f.tabs {
		if other.WindowID == t.WindowID {
			other.Active = false
		}
	}
	t.Active = true
}

// Tab returns the live tab with the given id, or nil.
func (f *Fake) Tab(id int) *Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tabs[id]; ok {
		tab := *t
		return &tab
	}
	return nil
}

// Group returns the live group with the given id, or nil.
func (f *Fake) Group(id int) *TabGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[id]; ok {
		group := *g
		return &group
	}
	return nil
}

// RemoveGroup deletes a group, simulating the browser discarding it.
func (f *Fake) RemoveGroup(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, id)
}

func (f *Fake) failLocked(op string) error {
	return f.failures[op]
}

func (f *Fake) GetWindow(_ context.Context, id int) (*Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("GetWindow"); err != nil {
		return nil, err
	}
	w, ok := f.windows[id]
	if !ok {
		return nil, ErrNotFound
	}
	win := *w
	return &win, nil
}

func (f *Fake) CreateWindow(_ context.Context, opts CreateWindowOptions) (*Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("CreateWindow"); err != nil {
		return nil, err
	}
	w := f.addWindowLocked(opts.Incognito)
	w.Focused = opts.Focused
	w.State = opts.State
	// A fresh window always carries one new-tab page.
	placeholder := f.addTabLocked(w.ID, Tab{URL: f.NewTabURL})
	placeholder.Active = true
	f.tabs[placeholder.ID].Active = true
	win := *w
	return &win, nil
}

func (f *Fake) QueryTabs(_ context.Context, q TabQuery) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("QueryTabs"); err != nil {
		return nil, err
	}
	var out []Tab
	for _, id := range f.tabOrder {
		t, ok := f.tabs[id]
		if !ok {
			continue
		}
		if q.WindowID != 0 && t.WindowID != q.WindowID {
			continue
		}
		if q.GroupID != 0 && t.GroupID != q.GroupID {
			continue
		}
		if q.Active && !t.Active {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *Fake) CreateTab(_ context.Context, opts CreateTabOptions) (*Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("CreateTab"); err != nil {
		return nil, err
	}
	windowID := opts.WindowID
	if windowID == 0 {
		// Fall back to the window of the active tab, like the real API.
		for _, id := range f.tabOrder {
			if t, ok := f.tabs[id]; ok && t.Active {
				windowID = t.WindowID
				break
			}
		}
		if windowID == 0 {
			w := f.addWindowLocked(false)
			windowID = w.ID
		}
	}
	url := opts.URL
	if url == "" {
		url = f.NewTabURL
	}
	tab := f.addTabLocked(windowID, Tab{URL: url, Active: opts.Active})
	result := *tab
	return &result, nil
}

func (f *Fake) UpdateTab(_ context.Context, id int, u TabUpdate) (*Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("UpdateTab"); err != nil {
		return nil, err
	}
	t, ok := f.tabs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.URL != nil {
		t.URL = *u.URL
	}
	if u.Active != nil {
		t.Active = *u.Active
	}
	tab := *t
	return &tab, nil
}

func (f *Fake) RemoveTabs(_ context.Context, ids ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("RemoveTabs"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(f.tabs, id)
		f.RemovedTabs = append(f.RemovedTabs, id)
	}
	order := f.tabOrder[:0]
	for _, id := range f.tabOrder {
		if _, ok := f.tabs[id]; ok {
			order = append(order, id)
		}
	}
	f.tabOrder = order
	return nil
}

func (f *Fake) ActiveTab(_ context.Context) (*Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("ActiveTab"); err != nil {
		return nil, err
	}
	for _, id := range f.tabOrder {
		if t, ok := f.tabs[id]; ok && t.Active {
			tab := *t
			return &tab, nil
		}
	}
	return nil, ErrNotFound
}

func (f *Fake) GroupTabs(_ context.Context, opts GroupOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("GroupTabs"); err != nil {
		return 0, err
	}
	groupID := opts.GroupID
	if groupID == 0 {
		f.nextGroupID++
		groupID = f.nextGroupID
		windowID := opts.WindowID
		if windowID == 0 && len(opts.TabIDs) > 0 {
			if t, ok := f.tabs[opts.TabIDs[0]]; ok {
				windowID = t.WindowID
			}
		}
		f.groups[groupID] = &TabGroup{ID: groupID, WindowID: windowID}
	}
	for _, id := range opts.TabIDs {
		if t, ok := f.tabs[id]; ok {
			t.GroupID = groupID
		}
	}
	return groupID, nil
}

func (f *Fake) GetTabGroup(_ context.Context, id int) (*TabGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("GetTabGroup"); err != nil {
		return nil, err
	}
	g, ok := f.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	group := *g
	return &group, nil
}

func (f *Fake) UpdateTabGroup(_ context.Context, id int, u TabGroupUpdate) (*TabGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("UpdateTabGroup"); err != nil {
		return nil, err
	}
	g, ok := f.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Title != nil {
		g.Title = *u.Title
	}
	if u.Color != nil {
		g.Color = *u.Color
	}
	if u.Collapsed != nil {
		g.Collapsed = *u.Collapsed
	}
	group := *g
	return &group, nil
}

func (f *Fake) MoveTabGroup(_ context.Context, id, windowID, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("MoveTabGroup"); err != nil {
		return err
	}
	g, ok := f.groups[id]
	if !ok {
		return ErrNotFound
	}
	g.WindowID = windowID
	for _, t := range f.tabs {
		if t.GroupID == id {
			t.WindowID = windowID
		}
	}
	return nil
}

func (f *Fake) CreateBookmark(_ context.Context, b BookmarkCreate) (*Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("CreateBookmark"); err != nil {
		return nil, err
	}
	if !f.permissions[PermissionBookmarks] {
		return nil, ErrPermissionDenied
	}
	f.nextBookmarkID++
	node := &Bookmark{
		ID:       "bm" + strconv.Itoa(f.nextBookmarkID),
		ParentID: b.ParentID,
		Title:    b.Title,
		URL:      b.URL,
	}
	if b.Index != nil {
		node.Index = *b.Index
	} else {
		node.Index = f.childCountLocked(b.ParentID)
	}
	f.bookmarks[node.ID] = node
	bm := *node
	return &bm, nil
}

func (f *Fake) childCountLocked(parentID string) int {
	n := 0
	for _, b := range f.bookmarks {
		if b.ParentID == parentID {
			n++
		}
	}
	return n
}

func (f *Fake) GetBookmark(_ context.Context, id string) (*Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("GetBookmark"); err != nil {
		return nil, err
	}
	b, ok := f.bookmarks[id]
	if !ok {
		return nil, ErrNotFound
	}
	bm := *b
	return &bm, nil
}

func (f *Fake) GetBookmarkChildren(_ context.Context, id string) ([]Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("GetBookmarkChildren"); err != nil {
		return nil, err
	}
	if _, ok := f.bookmarks[id]; !ok {
		return nil, ErrNotFound
	}
	var out []Bookmark
	for _, b := range f.bookmarks {
		if b.ParentID == id {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *Fake) SearchBookmarks(_ context.Context, title string) ([]Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("SearchBookmarks"); err != nil {
		return nil, err
	}
	var out []Bookmark
	for _, b := range f.bookmarks {
		if b.Title == title {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) UpdateBookmark(_ context.Context, id string, u BookmarkUpdate) (*Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("UpdateBookmark"); err != nil {
		return nil, err
	}
	b, ok := f.bookmarks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Title != nil {
		b.Title = *u.Title
	}
	if u.URL != nil {
		b.URL = *u.URL
	}
	if u.Index != nil {
		b.Index = *u.Index
	}
	bm := *b
	return &bm, nil
}

func (f *Fake) RemoveBookmarkTree(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("RemoveBookmarkTree"); err != nil {
		return err
	}
	if _, ok := f.bookmarks[id]; !ok {
		return ErrNotFound
	}
	f.removeTreeLocked(id)
	return nil
}

func (f *Fake) removeTreeLocked(id string) {
	for childID, b := range f.bookmarks {
		if b.ParentID == id {
			f.removeTreeLocked(childID)
		}
	}
	delete(f.bookmarks, id)
}

func (f *Fake) HasPermission(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("HasPermission"); err != nil {
		return false, err
	}
	return f.permissions[name], nil
}

func (f *Fake) RequestPermission(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("RequestPermission"); err != nil {
		return false, err
	}
	if f.grantOnRequest[name] {
		f.permissions[name] = true
		return true, nil
	}
	return false, nil
}

func (f *Fake) SearchHistory(_ context.Context, q HistoryQuery) ([]HistoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked("SearchHistory"); err != nil {
		return nil, err
	}
	var out []HistoryItem
	for _, item := range f.history {
		if q.StartTime != 0 && item.LastVisitTime < q.StartTime {
			continue
		}
		out = append(out, item)
		if q.MaxResults > 0 && len(out) == q.MaxResults {
			break
		}
	}
	return out, nil
}

var _ Browser = (*Fake)(nil)
