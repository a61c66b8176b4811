package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"llms-gateway/internal/llm"
)

// Provider type names accepted in the "type" field.
const (
	TypeOpenAI       = "OpenAiProvider"
	TypeOllama       = "OllamaProvider"
	TypeGoogle       = "GoogleProvider"
	TypeGoogleOpenAI = "GoogleOpenAiProvider"
	TypeAirRefinery  = "AirRefineryProvider"
	TypeSDK          = "SdkProvider"
)

const (
	defaultImageMaxSize   = "1536x1024"
	defaultImageMaxLength = 1536 * 1024
)

// OverrideKeys are the generation parameters a provider descriptor may pin.
// When set they replace whatever the caller sent.
var OverrideKeys = []string{
	"frequency_penalty",
	"max_completion_tokens",
	"n",
	"parallel_tool_calls",
	"presence_penalty",
	"prompt_cache_key",
	"reasoning_effort",
	"safety_identifier",
	"seed",
	"service_tier",
	"stop",
	"store",
	"temperature",
	"top_logprobs",
	"top_p",
	"verbosity",
	"enable_thinking",
	"stream",
}

var fileSystem = afs.New()

// Config is the parsed gateway configuration file.
type Config struct {
	Defaults  Defaults
	Convert   Convert
	Providers []ProviderConfig // file order
}

type Defaults struct {
	Headers map[string]string `yaml:"headers"`
	Check   map[string]any    `yaml:"check"`
}

type Convert struct {
	Image *ImageConvert `yaml:"image"`
}

// ImageConvert bounds images handed to providers. MaxLength is the budget
// for the base64-encoded payload in bytes.
type ImageConvert struct {
	MaxSize   string `yaml:"max_size"`
	MaxLength int64  `yaml:"max_length"`
}

// Dimensions parses MaxSize ("WxH").
func (c ImageConvert) Dimensions() (width, height int, err error) {
	size := c.MaxSize
	if size == "" {
		size = defaultImageMaxSize
	}
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return 0, 0, fmt.Errorf("max_size %q must be WIDTHxHEIGHT", size)
	}
	if width, err = strconv.Atoi(strings.TrimSpace(w)); err != nil {
		return 0, 0, fmt.Errorf("max_size %q: %w", size, err)
	}
	if height, err = strconv.Atoi(strings.TrimSpace(h)); err != nil {
		return 0, 0, fmt.Errorf("max_size %q: %w", size, err)
	}
	return width, height, nil
}

// ProviderConfig is the static descriptor of one backend.
type ProviderConfig struct {
	Name      string
	Type      string
	Enabled   bool
	BaseURL   string
	APIKey    string
	Models    map[string]string // alias -> provider model id
	AllModels bool
	Headers   map[string]string
	Overrides map[string]any

	Pricing        map[string]llm.Pricing
	DefaultPricing *llm.Pricing
	Check          map[string]any

	SafetySettings []any
	ThinkingConfig map[string]any
}

type rawFile struct {
	Defaults  Defaults  `yaml:"defaults"`
	Convert   Convert   `yaml:"convert"`
	Providers yaml.Node `yaml:"providers"`
}

type rawProvider struct {
	Type           string                    `yaml:"type"`
	Enabled        *bool                     `yaml:"enabled"`
	BaseURL        string                    `yaml:"base_url"`
	APIKey         string                    `yaml:"api_key"`
	Models         map[string]string         `yaml:"models"`
	AllModels      bool                      `yaml:"all_models"`
	Headers        map[string]string         `yaml:"headers"`
	Pricing        map[string]map[string]any `yaml:"pricing"`
	DefaultPricing map[string]any            `yaml:"default_pricing"`
	Check          map[string]any            `yaml:"check"`
	SafetySettings []any                     `yaml:"safety_settings"`
	ThinkingConfig map[string]any            `yaml:"thinking_config"`
}

// Load reads the configuration from path. Any location afs can open works,
// local files being the common case. JSON files are accepted as YAML.
func Load(ctx context.Context, path string) (*Config, error) {
	reader, err := fileSystem.OpenURL(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration bytes, substituting $VAR references from the
// environment.
func Parse(data []byte) (*Config, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cfg := &Config{
		Defaults: raw.Defaults,
		Convert:  raw.Convert,
	}
	if cfg.Defaults.Headers == nil {
		cfg.Defaults.Headers = map[string]string{"Content-Type": "application/json"}
	}
	if cfg.Convert.Image != nil && cfg.Convert.Image.MaxLength <= 0 {
		cfg.Convert.Image.MaxLength = defaultImageMaxLength
	}
	for k, v := range cfg.Defaults.Headers {
		cfg.Defaults.Headers[k] = expandEnv(v)
	}

	if raw.Providers.Kind == 0 {
		return cfg, nil
	}
	if raw.Providers.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("providers must be a mapping")
	}

	// mapping node content alternates key, value in document order
	nodes := raw.Providers.Content
	for i := 0; i+1 < len(nodes); i += 2 {
		name := nodes[i].Value
		pc, err := decodeProvider(name, nodes[i+1], cfg.Defaults)
		if err != nil {
			return nil, err
		}
		cfg.Providers = append(cfg.Providers, pc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeProvider(name string, node *yaml.Node, defaults Defaults) (ProviderConfig, error) {
	var rp rawProvider
	if err := node.Decode(&rp); err != nil {
		return ProviderConfig{}, fmt.Errorf("provider %s: %w", name, err)
	}
	var all map[string]any
	if err := node.Decode(&all); err != nil {
		return ProviderConfig{}, fmt.Errorf("provider %s: %w", name, err)
	}

	pc := ProviderConfig{
		Name:           name,
		Type:           rp.Type,
		Enabled:        rp.Enabled == nil || *rp.Enabled,
		BaseURL:        strings.TrimRight(expandEnv(rp.BaseURL), "/"),
		APIKey:         expandEnv(rp.APIKey),
		Models:         rp.Models,
		AllModels:      rp.AllModels,
		Headers:        make(map[string]string, len(defaults.Headers)+len(rp.Headers)),
		Overrides:      make(map[string]any),
		Check:          rp.Check,
		SafetySettings: rp.SafetySettings,
		ThinkingConfig: rp.ThinkingConfig,
	}
	if pc.Models == nil {
		pc.Models = make(map[string]string)
	}
	for k, v := range defaults.Headers {
		pc.Headers[k] = v
	}
	for k, v := range rp.Headers {
		pc.Headers[k] = expandEnv(v)
	}

	for _, key := range OverrideKeys {
		if v, ok := all[key]; ok && v != nil {
			pc.Overrides[key] = v
		}
	}

	if len(rp.Pricing) > 0 {
		pc.Pricing = make(map[string]llm.Pricing, len(rp.Pricing))
		for model, p := range rp.Pricing {
			pc.Pricing[model] = toPricing(p)
		}
	}
	if rp.DefaultPricing != nil {
		p := toPricing(rp.DefaultPricing)
		pc.DefaultPricing = &p
	}

	return pc, nil
}

func toPricing(m map[string]any) llm.Pricing {
	return llm.Pricing{
		Input:  llm.PriceString(m["input"]),
		Output: llm.PriceString(m["output"]),
	}
}

// expandEnv replaces a value of the form $NAME with the environment variable.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "$") {
		return os.Getenv(v[1:])
	}
	return v
}

// Validate checks structural problems only. Providers missing credentials
// are not errors: they are skipped when the registry is built.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("provider %s: type must be provided", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %s: defined more than once", p.Name)
		}
		seen[p.Name] = true
		for alias, target := range p.Models {
			if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
				return fmt.Errorf("provider %s: model alias %q must map to a model id", p.Name, alias)
			}
		}
	}
	if c.Convert.Image != nil {
		if _, _, err := c.Convert.Image.Dimensions(); err != nil {
			return fmt.Errorf("convert.image: %w", err)
		}
	}
	return nil
}

// Provider returns the descriptor with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// CheckRequest builds the ping request used to probe model. The provider's
// own check request wins over the global default.
func (c *Config) CheckRequest(p ProviderConfig, model string) (*llm.ChatRequest, error) {
	tmpl := p.Check
	if tmpl == nil {
		tmpl = c.Defaults.Check
	}
	if tmpl == nil {
		tmpl = map[string]any{
			"messages": []any{map[string]any{"role": llm.RoleUser, "content": "1+1="}},
		}
	}

	data, err := json.Marshal(normalize(tmpl))
	if err != nil {
		return nil, fmt.Errorf("encode check request: %w", err)
	}
	var req llm.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode check request: %w", err)
	}
	req.Model = model
	return &req, nil
}

// normalize converts map[any]any values left by YAML into JSON-encodable maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// NormalizeValue is normalize for callers outside the package.
func NormalizeValue(v any) any { return normalize(v) }
