package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/config"
	"github.com/tabstash/tabstash/internal/stash"
	"github.com/tabstash/tabstash/internal/workspace"
)

// errDaemonUnreachable wraps connection failures so commands can hint at
// 'tabstash serve'.
var errDaemonUnreachable = errors.New("cannot reach the tabstash daemon (is 'tabstash serve' running?)")

// daemonClient talks to the local daemon's REST API. Anything touching live
// browser state goes through here; only the daemon holds the extension
// connection.
type daemonClient struct {
	base string
	http *http.Client
}

func newDaemonClient(cfg *config.Config) *daemonClient {
	return &daemonClient{
		base: "http://" + cfg.Bridge.Listen,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs one API call. A nil out discards the response body; a 204
// leaves out untouched.
func (c *daemonClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errDaemonUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *daemonClient) openContext(ctx context.Context, id string, windowID int) (*workspace.Context, error) {
	body := map[string]int{"windowId": windowID}
	var opened workspace.Context
	if err := c.do(ctx, http.MethodPost, "/v1/contexts/"+id+"/open", body, &opened); err != nil {
		return nil, err
	}
	return &opened, nil
}

func (c *daemonClient) closeContext(ctx context.Context, id string) (*workspace.Context, error) {
	var closed workspace.Context
	if err := c.do(ctx, http.MethodPost, "/v1/contexts/"+id+"/close", nil, &closed); err != nil {
		return nil, err
	}
	return &closed, nil
}

func (c *daemonClient) persistContext(ctx context.Context, id string) (int, bool, error) {
	var result struct {
		Saved            int  `json:"saved"`
		PermissionDenied bool `json:"permissionDenied"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/contexts/"+id+"/persist", nil, &result); err != nil {
		return 0, false, err
	}
	return result.Saved, result.PermissionDenied, nil
}

func (c *daemonClient) moveContext(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/contexts/"+id+"/move", nil, nil)
}

func (c *daemonClient) removeContextFolder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/contexts/"+id+"/folder", nil, nil)
}

func (c *daemonClient) closeGroup(ctx context.Context, groupID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/groups/%d/close", groupID), nil, nil)
}

func (c *daemonClient) stashWindow(ctx context.Context, windowID int, keepWindow bool) (*stash.Session, error) {
	body := map[string]any{"windowId": windowID, "keepWindow": keepWindow}
	var session stash.Session
	session.WindowID = -1
	if err := c.do(ctx, http.MethodPost, "/v1/stash", body, &session); err != nil {
		return nil, err
	}
	if session.WindowID == -1 {
		// 204: the window had nothing to stash.
		return nil, nil
	}
	return &session, nil
}

func (c *daemonClient) snapshotWindow(ctx context.Context, windowID int) (*stash.Snapshot, error) {
	body := map[string]int{"windowId": windowID}
	var snapshot stash.Snapshot
	if err := c.do(ctx, http.MethodPost, "/v1/snapshot", body, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.ID == "" {
		return nil, nil
	}
	return &snapshot, nil
}

func (c *daemonClient) recentHistory(ctx context.Context, limit int) ([]browser.HistoryItem, error) {
	path := "/v1/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var items []browser.HistoryItem
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *daemonClient) sweep(ctx context.Context) (int, error) {
	var result struct {
		Moved int `json:"moved"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sweep", nil, &result); err != nil {
		return 0, err
	}
	return result.Moved, nil
}
