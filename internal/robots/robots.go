// Package robots answers whether a URL may be fetched for our user agent.
// Robots files are fetched once per host and cached for the process
// lifetime; fetch failures fail open, matching common crawler practice.
package robots

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const defaultAgent = "rentwatch"

// Checker caches per-host robots.txt verdicts.
type Checker struct {
	client *http.Client
	agent  string

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

func NewChecker(agent string) *Checker {
	if agent == "" {
		agent = defaultAgent
	}
	return &Checker{
		client: &http.Client{Timeout: 10 * time.Second},
		agent:  agent,
		hosts:  map[string]*robotstxt.RobotsData{},
	}
}

// Allowed reports whether pageURL may be fetched. Unparseable URLs and
// unreachable robots files are allowed.
func (c *Checker) Allowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := c.robotsFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, c.agent)
}

func (c *Checker) robotsFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	c.mu.Lock()
	if data, ok := c.hosts[u.Host]; ok {
		c.mu.Unlock()
		return data
	}
	c.mu.Unlock()

	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)

	var data *robotstxt.RobotsData
	if err == nil {
		defer resp.Body.Close()
		data, _ = robotstxt.FromResponse(resp)
	}

	c.mu.Lock()
	c.hosts[u.Host] = data
	c.mu.Unlock()
	return data
}
