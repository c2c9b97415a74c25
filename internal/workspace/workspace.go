// Package workspace owns persistence and indexing of Context records: groups
// of browser tabs tracked across open episodes, stored in the key-value
// namespace and indexed by a self-healing flat key list.
package workspace

import (
	"strconv"

	"github.com/tabstash/tabstash/internal/tabinfo"
)

// Key namespace layout. These names are the persisted-state contract and
// must not change without a migration.
const (
	contextKeyPrefix = "c-"
	dataKeyPrefix    = "cr-"
	keyContextKeys   = "contextKeys"
	keyOpenGroups    = "openGroups"
)

// State is the explicit lifecycle state of a context. The live-only fields
// (group id, active tab id) are only meaningful while open.
type State string

const (
	StateUnopened State = "unopened"
	StateOpen     State = "open"
)

// Live holds the fields that exist only while a context is open. It is
// dropped in one piece on close, so no live-only field can leak into a
// closed record.
type Live struct {
	GroupID     int `json:"groupId"`
	ActiveTabID int `json:"activeTabId,omitempty"`
}

// Context is the unit of persistence for a set of tabs. Timestamps are
// milliseconds since the epoch. Updated is refreshed on every save unless
// explicitly suppressed; Closed is set only by the close transition and
// never cleared.
type Context struct {
	ID          string        `json:"id"`
	Title       string        `json:"title,omitempty"`
	Color       string        `json:"color,omitempty"`
	Tabs        []tabinfo.Tab `json:"tabs"`
	IsIncognito bool          `json:"isIncognito,omitempty"`

	// FolderID is a weak reference to the bookmark folder holding persisted
	// tabs; absent until first persisted, and may go stale.
	FolderID string `json:"folderId,omitempty"`

	// Live is present only while the context is open.
	Live *Live `json:"live,omitempty"`

	// ActiveTabIndex is computed once at close time from the last known
	// active tab id; -1 when that tab was not in the stored order.
	ActiveTabIndex int `json:"activeTabIndex,omitempty"`

	IsCollapsed bool `json:"isCollapsed,omitempty"`

	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
	Closed  int64 `json:"closed,omitempty"`
}

// State returns the explicit lifecycle state.
func (c *Context) State() State {
	if c.Live != nil {
		return StateOpen
	}
	return StateUnopened
}

// Key returns the storage key for a context id.
func Key(id string) string {
	return contextKeyPrefix + id
}

// DataKey returns the storage key for a context's derived-data record.
func DataKey(id string) string {
	return dataKeyPrefix + id
}

// GroupKey converts a live tab-group id to its openGroups map key.
func GroupKey(groupID int) string {
	return strconv.Itoa(groupID)
}
