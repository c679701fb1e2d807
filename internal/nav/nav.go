// Package nav wraps browser control behind a small interface so the
// orchestrator and selector engine never touch rod directly. One Page is one
// dedicated browser session, opened and closed within a single task.
package nav

import (
	"context"
	"errors"
	"time"

	"rentwatch/internal/match"
)

// ErrNavigationTimeout marks a page that did not settle before its deadline.
var ErrNavigationTimeout = errors.New("navigation timeout")

// ErrSelectorNotFound marks a selector with zero live matches before its
// wait deadline.
var ErrSelectorNotFound = errors.New("selector not found")

// Page is an open browser page. Callers must Close it on every exit path.
type Page interface {
	// VisibleText returns cleaned page markup (scripts, styles, meta and
	// similar noise stripped), capped for prompt-size safety.
	VisibleText() (string, error)
	// OutboundLinks returns every anchor and button with its text and an
	// absolutized href (empty href for buttons without one).
	OutboundLinks() ([]match.Link, error)
	// LocateAll counts live matches for a CSS selector and returns each
	// match's inner HTML.
	LocateAll(selector string) (int, []string, error)
	// WaitFor blocks until the selector has at least one match or the
	// timeout elapses, failing with ErrSelectorNotFound.
	WaitFor(selector string, timeout time.Duration) error
	// ElementIDs returns the id attribute of up to limit elements, in
	// document order.
	ElementIDs(limit int) ([]string, error)
	Close() error
}

// Navigator opens pages.
type Navigator interface {
	OpenPage(ctx context.Context, url string, timeout time.Duration) (Page, error)
}
