package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

// getFunc retrieves a URL, returning the status code and body.
type getFunc func(ctx context.Context, uri string) (int, []byte, error)

// RobotsChecker caches robots.txt per host and answers whether a path may
// be fetched by the configured user agent.
type RobotsChecker struct {
	mu        sync.RWMutex
	cache     map[string]*robotstxt.RobotsData
	get       getFunc
	userAgent string
}

func newRobotsChecker(userAgent string, get getFunc) *RobotsChecker {
	return &RobotsChecker{
		cache:     make(map[string]*robotstxt.RobotsData),
		get:       get,
		userAgent: productToken(userAgent),
	}
}

// Allowed reports whether rawURL may be fetched. A robots.txt that cannot
// be retrieved allows everything.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("failed to parse URL: %w", err)
	}

	data, err := r.robotsData(ctx, parsed)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, r.userAgent), nil
}

func (r *RobotsChecker) robotsData(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	host := parsed.Host

	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, host)
	status, body, err := r.get(ctx, robotsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}

	data, err = robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	r.mu.Lock()
	r.cache[host] = data
	r.mu.Unlock()

	return data, nil
}

// productToken reduces "newsdigest/1.0 (+url)" to "newsdigest" for group
// matching.
func productToken(ua string) string {
	parts := strings.Fields(ua)
	if len(parts) == 0 {
		return ua
	}
	return strings.Split(parts[0], "/")[0]
}
