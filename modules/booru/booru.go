// Package booru provides the image-search command: it queries a
// booru-style JSON API and replies with a one-line image link.
package booru

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"roombot/modules"
)

const defaultCooldown = 10 * time.Second

// Module is the booru plugin. Its base URL comes from the module config
// slice at room join; without one the command reports itself unconfigured.
// The join broadcast and command dispatch run on different goroutines, so
// the config fields are mutex-guarded.
type Module struct {
	logger *zap.Logger
	client *http.Client

	mu      sync.RWMutex
	baseURL string
	filter  string
}

type moduleConfig struct {
	BaseURL string `yaml:"base_url"`
	Filter  string `yaml:"filter"`
}

func New(logger *zap.Logger) *Module {
	return &Module{
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *Module) Info() modules.Info {
	return modules.Info{
		Name:        "booru",
		Description: "Image search against a booru-style API",
		Commands: []modules.CommandSpec{
			{Name: "booru", Handler: m.onSearch, Cooldown: defaultCooldown},
		},
	}
}

func (m *Module) OnLifecycleEvent(event string, ctx *modules.LifecycleContext) error {
	if event != modules.EventJoin || ctx.Config == nil {
		return nil
	}
	var cfg moduleConfig
	if err := ctx.Config.Decode(&cfg); err != nil {
		return fmt.Errorf("decode booru config: %w", err)
	}

	m.mu.Lock()
	m.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	m.filter = cfg.Filter
	m.mu.Unlock()
	return nil
}

// snapshot returns the current endpoint config for one search.
func (m *Module) snapshot() (baseURL, filter string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseURL, m.filter
}

func (m *Module) onSearch(ctx *modules.Context) (string, error) {
	baseURL, filter := m.snapshot()
	if baseURL == "" {
		ctx.Logger.Warn("Booru command invoked without a configured base URL")
		return "", nil
	}

	img, err := m.search(baseURL, filter, FixQuery(ctx.Args))
	if err != nil {
		ctx.Logger.Error("Booru search failed",
			zap.String("query", ctx.Args),
			zap.Error(err))
		return "", nil
	}
	if img == nil {
		return "No images found, sorry!", nil
	}
	return img.ViewURL, nil
}

type image struct {
	ID      int    `json:"id"`
	ViewURL string `json:"view_url"`
}

type searchResponse struct {
	Images []image `json:"images"`
}

// search queries the API for one image matching q. An empty query asks for
// a random image. A nil image with nil error means no results.
func (m *Module) search(baseURL, filter, q string) (*image, error) {
	params := url.Values{}
	params.Set("per_page", "1")
	if q == "" {
		params.Set("q", "*")
		params.Set("sf", "random")
	} else {
		params.Set("q", q)
	}
	if filter != "" {
		params.Set("filter_id", filter)
	}

	resp, err := m.client.Get(baseURL + "/api/v1/json/search/images?" + params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(result.Images) == 0 {
		return nil, nil
	}
	return &result.Images[0], nil
}

var multiComma = regexp.MustCompile(`,,+`)

// FixQuery normalizes a free-form tag query: literal plus signs are
// dropped, whitespace inside each comma-separated tag becomes a plus, and
// runs of commas collapse.
func FixQuery(q string) string {
	q = strings.ReplaceAll(q, "+", "")

	tags := strings.Split(q, ",")
	for i, tag := range tags {
		tags[i] = strings.Join(strings.Fields(tag), "+")
	}

	q = strings.Join(tags, ",")
	q = multiComma.ReplaceAllString(q, ",")
	return strings.Trim(q, ",")
}
