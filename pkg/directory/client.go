package directory

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ============================================
// DIRECTORY CLIENT
// Fetches and caches authorized caller-ID patterns
// ============================================

// Conventional response keys tried when the configured data key is
// absent.
var fallbackKeys = []string{"data", "numbers", "valid_numbers", "patterns"}

// Config holds the directory endpoint settings.
type Config struct {
	URL        string
	AuthToken  string
	AuthHeader string // header carrying the token, default "api_token"
	Method     string // GET or POST, default POST
	DataKey    string // response key holding the list, default "data"

	RefreshInterval time.Duration // default 1h
	Timeout         time.Duration // request timeout, default 30s

	CacheFile         string
	UseCacheOnFailure bool

	// OnUpdate is invoked with the new pattern list after every
	// successful fetch and after a cache fallback load.
	OnUpdate func(numbers []string)
}

// Status is a point-in-time snapshot of the client's fetch state.
type Status struct {
	Count       int       `json:"count"`
	LastFetch   time.Time `json:"last_fetch"`
	LastSuccess bool      `json:"last_success"`
	FetchCount  int       `json:"fetch_count"`
	ErrorCount  int       `json:"error_count"`
}

// Client fetches the authorized-pattern list on a timer, persisting the
// last-known-good list and falling back to it when the service is
// unreachable. A failed fetch never disturbs the active list.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.RWMutex
	numbers     []string
	lastFetch   time.Time
	lastSuccess bool
	fetchCount  int
	errorCount  int

	stopCh   chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

// NewClient creates a directory client. Missing config fields take the
// documented defaults.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "api_token"
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.DataKey == "" {
		cfg.DataKey = "data"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start performs one synchronous fetch, falls back to the persisted
// cache on failure, and begins the background refresh loop. Returns true
// if either the fetch succeeded or a non-empty cached list was loaded.
func (c *Client) Start() bool {
	c.logger.Info("starting directory client",
		zap.String("url", c.cfg.URL),
		zap.String("method", c.cfg.Method),
		zap.Duration("refresh_interval", c.cfg.RefreshInterval))

	ok := c.fetch()

	if !ok && c.cfg.UseCacheOnFailure {
		cached, err := loadCache(c.cfg.CacheFile)
		if err != nil {
			c.logger.Warn("cache load failed", zap.Error(err))
		} else if len(cached) > 0 {
			c.mu.Lock()
			c.numbers = cached
			c.mu.Unlock()
			c.logger.Info("loaded patterns from cache", zap.Int("count", len(cached)))
			if c.cfg.OnUpdate != nil {
				c.cfg.OnUpdate(cached)
			}
		}
	}

	c.loopDone = make(chan struct{})
	go c.refreshLoop()

	c.mu.RLock()
	count := len(c.numbers)
	c.mu.RUnlock()
	return ok || count > 0
}

// refreshLoop refetches on the configured interval until stopped. The
// wait is interruptible so Stop returns promptly.
func (c *Client) refreshLoop() {
	defer close(c.loopDone)

	for {
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.cfg.RefreshInterval):
			c.fetch()
		}
	}
}

// Stop signals the refresh loop to end and waits, bounded, for it to
// finish.
func (c *Client) Stop() {
	c.logger.Info("stopping directory client")
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.loopDone == nil {
		return
	}
	select {
	case <-c.loopDone:
	case <-time.After(5 * time.Second):
		c.logger.Warn("refresh loop did not stop in time")
	}
}

// ForceRefresh performs an immediate fetch attempt.
func (c *Client) ForceRefresh() bool {
	return c.fetch()
}

// fetch issues one directory request. On success it replaces the
// in-memory snapshot atomically, persists the list best-effort, and
// invokes the update callback. On any failure the active list is left
// unchanged and the persisted cache is not touched.
func (c *Client) fetch() bool {
	c.mu.Lock()
	c.fetchCount++
	attempt := c.fetchCount
	c.mu.Unlock()

	c.logger.Info("fetching directory", zap.Int("attempt", attempt))

	numbers, err := c.doFetch()
	if err != nil {
		c.mu.Lock()
		c.errorCount++
		c.lastSuccess = false
		c.mu.Unlock()
		c.logger.Error("directory fetch failed", zap.Int("attempt", attempt), zap.Error(err))
		return false
	}

	c.mu.Lock()
	oldCount := len(c.numbers)
	c.numbers = numbers
	c.lastFetch = time.Now()
	c.lastSuccess = true
	c.mu.Unlock()

	if err := saveCache(c.cfg.CacheFile, numbers, c.cfg.URL); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}

	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(numbers)
	}

	c.logger.Info("directory fetched",
		zap.Int("count", len(numbers)),
		zap.Int("previous_count", oldCount))
	return true
}

// doFetch performs the HTTP request and extracts the pattern list.
func (c *Client) doFetch() ([]string, error) {
	var body io.Reader
	if c.cfg.Method == http.MethodPost {
		body = strings.NewReader("{}")
	}

	req, err := http.NewRequest(c.cfg.Method, c.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.cfg.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set(c.cfg.AuthHeader, c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("directory API error (%d): %s", resp.StatusCode, string(raw))
	}

	return c.extractNumbers(raw)
}

// extractNumbers pulls the pattern list out of a response body that is
// either a bare JSON array or an object exposing the list under the
// configured key (with conventional fallbacks).
func (c *Client) extractNumbers(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed JSON response")
	}

	root := gjson.ParseBytes(body)

	switch {
	case root.IsArray():
		return trimList(root), nil

	case root.IsObject():
		if status := root.Get("status"); status.Exists() && status.String() != "" && status.String() != "success" {
			c.logger.Warn("directory returned non-success status",
				zap.String("status", status.String()))
		}

		keys := append([]string{c.cfg.DataKey}, fallbackKeys...)
		for _, key := range keys {
			if v := root.Get(key); v.IsArray() {
				return trimList(v), nil
			}
		}
	}

	return nil, fmt.Errorf("no pattern list found in response")
}

// trimList converts a gjson array to trimmed, non-empty strings.
func trimList(v gjson.Result) []string {
	elems := v.Array()
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		s := strings.TrimSpace(e.String())
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetNumbers returns a copy of the current pattern list.
func (c *Client) GetNumbers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.numbers))
	copy(out, c.numbers)
	return out
}

// GetStatus returns a consistent snapshot of the fetch counters.
func (c *Client) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		Count:       len(c.numbers),
		LastFetch:   c.lastFetch,
		LastSuccess: c.lastSuccess,
		FetchCount:  c.fetchCount,
		ErrorCount:  c.errorCount,
	}
}
