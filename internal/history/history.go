// Package history surfaces recently visited pages. Access is permission
// gated: without the history permission the result is simply empty, never an
// error, since history is a convenience source rather than required state.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/slogger"
)

// Defaults for the service options.
const (
	DefaultWindow     = 30 * 24 * time.Hour
	DefaultMaxResults = 10000
)

// Options tunes the history service. Zero fields take the defaults.
type Options struct {
	// Window is how far back visits are considered.
	Window time.Duration

	// MaxResults caps the raw result set fetched before deduplication.
	MaxResults int
}

// Service reads recent browser history.
type Service struct {
	browser    browser.Browser
	log        *slog.Logger
	window     time.Duration
	maxResults int
	now        func() int64
}

// New creates a history service.
func New(b browser.Browser, opts Options, logger *slog.Logger) *Service {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Service{
		browser:    b,
		log:        logger,
		window:     opts.Window,
		maxResults: opts.MaxResults,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Recent returns up to limit recently visited pages from the lookback
// window, deduplicated by title with the most recent visit winning. Without
// the history permission the result is empty.
func (s *Service) Recent(ctx context.Context, limit int) ([]browser.HistoryItem, error) {
	granted, err := s.browser.HasPermission(ctx, browser.PermissionHistory)
	if err != nil {
		return nil, fmt.Errorf("check history permission: %w", err)
	}
	if !granted {
		s.log.Debug("history permission not granted")
		return nil, nil
	}

	items, err := s.browser.SearchHistory(ctx, browser.HistoryQuery{
		StartTime:  s.now() - s.window.Milliseconds(),
		MaxResults: s.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}

	seen := make(map[string]bool, len(items))
	var out []browser.HistoryItem
	for _, item := range items {
		if item.Title != "" && seen[item.Title] {
			continue
		}
		seen[item.Title] = true
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
