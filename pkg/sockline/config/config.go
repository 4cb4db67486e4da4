// Package config loads client settings from an HCL file and the environment.
//
//	app_name     = "My App"
//	ws_url       = "wss://${env.HOST}/socket"
//	dial_timeout = "10s"
//
//	features {
//	  enable_websockets = true
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

const (
	DefaultAppName     = "My App"
	DefaultWSURL       = "ws://localhost:3001"
	DefaultAPIURL      = "http://localhost:3001/api"
	DefaultDialTimeout = 30 * time.Second
	DefaultWriteBuffer = 100
)

type Config struct {
	AppName     string    `hcl:"app_name,optional"`
	APIURL      string    `hcl:"api_url,optional"`
	WSURL       string    `hcl:"ws_url,optional"`
	DialTimeout string    `hcl:"dial_timeout,optional"`
	WriteBuffer int       `hcl:"write_buffer,optional"`
	Features    *Features `hcl:"features,block"`
}

// Features toggles optional parts of the client. Unset toggles are enabled.
type Features struct {
	EnableWebsockets *bool `hcl:"enable_websockets,optional"`
	EnableCharts     *bool `hcl:"enable_charts,optional"`
}

// ConfigBuilder collects config sources. Later sources override earlier
// ones, and the environment overrides them all.
type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger: zap.NewNop(),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds file paths (string) or HCL text ([]byte). Empty paths
// are skipped.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	config := &Config{}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": GetEnvObject(),
		},
	}

	parser := hclparse.NewParser()
	var diags hcl.Diagnostics

	for _, source := range cb.sources {
		var file *hcl.File
		var parseDiags hcl.Diagnostics

		switch v := source.(type) {
		case string:
			if v == "" {
				continue
			}
			file, parseDiags = parser.ParseHCLFile(v)
		case []byte:
			file, parseDiags = parser.ParseHCL(v, fmt.Sprintf("<bytes@%p>", v))
		default:
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid source type",
				Detail:   fmt.Sprintf("Invalid source type: %T", v),
			})
			continue
		}

		diags = diags.Extend(parseDiags)
		if parseDiags.HasErrors() {
			continue
		}
		diags = diags.Extend(gohcl.DecodeBody(file.Body, evalCtx, config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config.applyEnv(cb.logger)
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid configuration",
			Detail:   err.Error(),
		})
	}

	return config, diags
}

// Load reads the config file at path, which may be empty, and applies the
// environment and defaults.
func Load(path string, logger *zap.Logger) (*Config, error) {
	config, diags := NewConfig().WithLogger(logger).WithSources(path).Build()
	if diags.HasErrors() {
		return nil, diags
	}
	return config, nil
}

func (c *Config) applyEnv(logger *zap.Logger) {
	if v := os.Getenv(EnvWSURL); v != "" {
		logger.Debug("ws_url from environment", zap.String("var", EnvWSURL))
		c.WSURL = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		logger.Debug("api_url from environment", zap.String("var", EnvAPIURL))
		c.APIURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.WriteBuffer == 0 {
		c.WriteBuffer = DefaultWriteBuffer
	}
	if c.Features == nil {
		c.Features = &Features{}
	}
}

// Validate checks URLs and durations.
func (c *Config) Validate() error {
	ws, err := url.Parse(c.WSURL)
	if err != nil {
		return fmt.Errorf("invalid ws_url: %w", err)
	}
	if ws.Scheme != "ws" && ws.Scheme != "wss" {
		return fmt.Errorf("ws_url must use ws or wss scheme, got %q", ws.Scheme)
	}
	if ws.Host == "" {
		return fmt.Errorf("ws_url %q has no host", c.WSURL)
	}

	if c.APIURL != "" {
		api, err := url.Parse(c.APIURL)
		if err != nil {
			return fmt.Errorf("invalid api_url: %w", err)
		}
		if api.Scheme != "http" && api.Scheme != "https" {
			return fmt.Errorf("api_url must use http or https scheme, got %q", api.Scheme)
		}
	}

	if c.DialTimeout != "" {
		d, err := time.ParseDuration(c.DialTimeout)
		if err != nil {
			return fmt.Errorf("invalid dial_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("dial_timeout must be positive, got %s", c.DialTimeout)
		}
	}

	if c.WriteBuffer < 0 {
		return fmt.Errorf("write_buffer must not be negative, got %d", c.WriteBuffer)
	}

	return nil
}

// DialTimeoutDuration returns the handshake timeout, or DefaultDialTimeout if unset.
func (c *Config) DialTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.DialTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultDialTimeout
}

func (c *Config) WebsocketsEnabled() bool {
	return c.Features == nil || c.Features.EnableWebsockets == nil || *c.Features.EnableWebsockets
}

func (c *Config) ChartsEnabled() bool {
	return c.Features == nil || c.Features.EnableCharts == nil || *c.Features.EnableCharts
}
