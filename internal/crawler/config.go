package crawler

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/pagination"
)

// Config is the effective configuration of one crawl. The mapstructure
// tags are the keys accepted in registry entries, source crawler config,
// pagination memory, and job overrides.
type Config struct {
	MaxPages        int           `mapstructure:"max_pages"`
	MaxArticles     int           `mapstructure:"max_articles"`
	Delay           time.Duration `mapstructure:"delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	Strategy        string        `mapstructure:"strategy"`
	Transport       string        `mapstructure:"transport"`
	LinkSelector    string        `mapstructure:"link_selector"`
	LinkFilter      string        `mapstructure:"link_filter"`
	ArticlePatterns []string      `mapstructure:"article_patterns"`
	AllowExternal   bool          `mapstructure:"allow_external"`
	RespectRobots   bool          `mapstructure:"respect_robots"`

	pagination.Options `mapstructure:",squash"`
}

// Defaults are the hard-coded settings every crawl starts from.
type Defaults struct {
	MaxPages      int
	Delay         time.Duration
	Timeout       time.Duration
	UserAgent     string
	Strategy      string
	Transport     string
	RespectRobots bool
	// MemoryTTL is how long pagination memory is trusted. Zero never expires.
	MemoryTTL time.Duration
}

// Built-in defaults.
const (
	DefaultMaxPages  = 3
	DefaultDelay     = 2 * time.Second
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "harvester/1.0 (+https://northcloud.one/bot)"
	DefaultStrategy  = pagination.NameAdaptive
	DefaultMemoryTTL = 30 * 24 * time.Hour
)

func (d Defaults) withFallbacks() Defaults {
	if d.MaxPages <= 0 {
		d.MaxPages = DefaultMaxPages
	}
	if d.Delay <= 0 {
		d.Delay = DefaultDelay
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.UserAgent == "" {
		d.UserAgent = DefaultUserAgent
	}
	if d.Strategy == "" {
		d.Strategy = DefaultStrategy
	}
	if d.Transport == "" {
		d.Transport = "http"
	}
	return d
}

func (d Defaults) config() Config {
	return Config{
		MaxPages:      d.MaxPages,
		Delay:         d.Delay,
		Timeout:       d.Timeout,
		UserAgent:     d.UserAgent,
		Strategy:      d.Strategy,
		Transport:     d.Transport,
		RespectRobots: d.RespectRobots,
	}
}

// Layer names, lowest priority first.
const (
	LayerDefaults  = "defaults"
	LayerRegistry  = "registry"
	LayerSource    = "source"
	LayerMemory    = "memory"
	LayerOverrides = "overrides"
)

// Resolution is a resolved Config plus the layers that contributed to it.
type Resolution struct {
	Config Config
	Layers []string
	// MemoryIgnored is set when the source had pagination memory that was stale.
	MemoryIgnored bool
}

// Resolve merges, lowest priority first: defaults, the registry entry for the
// source's domain, the source's own crawler config, its pagination memory when
// present and not stale, and the job's overrides.
func Resolve(
	defaults Defaults,
	registry *Registry,
	source *domain.Source,
	overrides map[string]any,
	now time.Time,
) (Resolution, error) {
	defaults = defaults.withFallbacks()
	res := Resolution{Config: defaults.config(), Layers: []string{LayerDefaults}}

	apply := func(layer string, values map[string]any) error {
		if len(values) == 0 {
			return nil
		}
		if err := decodeInto(&res.Config, values); err != nil {
			return fmt.Errorf("%s config: %w", layer, err)
		}
		res.Layers = append(res.Layers, layer)
		return nil
	}

	if entry := registry.Lookup(source.Domain()); entry != nil {
		if err := apply(LayerRegistry, entry); err != nil {
			return res, err
		}
	}
	if err := apply(LayerSource, source.CrawlerConfig); err != nil {
		return res, err
	}

	if mem, ok := domain.ParsePaginationMemory(source.PaginationMemory); ok {
		if mem.IsStale(now, defaults.MemoryTTL) {
			res.MemoryIgnored = true
		} else {
			values := make(map[string]any, len(mem.Config)+1)
			for k, v := range mem.Config {
				values[k] = v
			}
			values["strategy"] = mem.Strategy
			if err := apply(LayerMemory, values); err != nil {
				return res, err
			}
		}
	}

	if err := apply(LayerOverrides, overrides); err != nil {
		return res, err
	}

	if res.Config.MaxPages <= 0 {
		res.Config.MaxPages = defaults.MaxPages
	}
	if res.Config.Timeout <= 0 {
		res.Config.Timeout = defaults.Timeout
	}
	if res.Config.Delay < 0 {
		res.Config.Delay = 0
	}
	return res, nil
}

// decodeInto overlays values onto cfg. Keys absent from values keep cfg's value.
func decodeInto(cfg *Config, values map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(normalizeKeys(values))
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers as seconds, so {"delay": 2} means 2s.
func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	default:
		return data, nil
	}
}

// normalizeKeys lowercases keys and accepts dashes for underscores.
func normalizeKeys(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")] = v
	}
	return out
}

// memoryConfig is the pagination configuration persisted alongside a strategy name.
func memoryConfig(opts pagination.Options) (map[string]any, error) {
	out := map[string]any{}
	if err := mapstructure.Decode(opts, &out); err != nil {
		return nil, err
	}
	for k, v := range out {
		if reflect.ValueOf(v).IsZero() {
			delete(out, k)
		}
	}
	return out, nil
}
