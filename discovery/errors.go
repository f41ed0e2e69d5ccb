package discovery

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisallowedByRobots is returned when robots.txt forbids a URL.
var ErrDisallowedByRobots = errors.New("disallowed by robots.txt")

// FetchError reports a page that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SelectorMissError reports a block or story selector that matched nothing.
type SelectorMissError struct {
	Block    string
	Key      string // "block_selector" or "story_selector"
	Selector string
}

func (e *SelectorMissError) Error() string {
	return fmt.Sprintf("block %s: no nodes match %s %q", e.Block, e.Key, e.Selector)
}

// errorTypeLabel classifies err for the errors metric.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	if errors.Is(err, ErrDisallowedByRobots) {
		return "robots"
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.StatusCode != 0 {
			return "status"
		}
		return "connection"
	}
	var missErr *SelectorMissError
	if errors.As(err, &missErr) {
		return "selector_miss"
	}
	return "other"
}
