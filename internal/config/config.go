// Package config provides configuration management for the wsmitm proxy. It
// handles loading and parsing the YAML configuration file and provides
// structured access to the listen addresses, upstream target, logging
// settings, and message rewrite rules.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Listen is the address the proxy accepts WebSocket clients on.
	Listen string `yaml:"listen" json:"listen"`

	// Upstream is the server the proxy relays sessions to, e.g.
	// "wss://example.com". The incoming request path and query are appended.
	Upstream string `yaml:"upstream" json:"upstream"`

	// APIListen is the address of the read-only inspection API. Empty
	// disables the API.
	APIListen string `yaml:"api-listen,omitempty" json:"api-listen,omitempty"`

	// AllowCompression controls whether the client's permessage-deflate offer
	// is forwarded upstream. When false the offer is stripped and the session
	// relays uncompressed frames.
	AllowCompression bool `yaml:"allow-compression" json:"allow-compression"`

	// FlowRetention caps how many finished flows the registry keeps for the
	// inspection API. <= 0 uses the default of 256.
	FlowRetention int `yaml:"flow-retention,omitempty" json:"flow-retention,omitempty"`

	// LogLevel is the logrus level name: debug, info, warn, or error.
	LogLevel string `yaml:"log-level,omitempty" json:"log-level,omitempty"`

	// LogFile enables rotated file logging when set.
	LogFile string `yaml:"log-file,omitempty" json:"log-file,omitempty"`

	// Rewrite is the ordered list of message rewrite rules applied by the
	// interception hook.
	Rewrite []RewriteRule `yaml:"rewrite,omitempty" json:"rewrite,omitempty"`
}

// RewriteRule describes one interception rule for text messages carrying
// JSON. Match/Equals select messages; Set/Value edit them; Kill drops them.
type RewriteRule struct {
	// Match is a GJSON path that must exist in the message for the rule to
	// apply. Empty matches every JSON text message.
	Match string `yaml:"match,omitempty" json:"match,omitempty"`

	// Equals further restricts Match to a specific string value.
	Equals string `yaml:"equals,omitempty" json:"equals,omitempty"`

	// Set is the SJSON path to overwrite with Value.
	Set string `yaml:"set,omitempty" json:"set,omitempty"`

	// Value is the replacement written at Set.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// Kill drops the message instead of editing it.
	Kill bool `yaml:"kill,omitempty" json:"kill,omitempty"`
}

// DefaultFlowRetention is the registry cap used when the config leaves
// flow-retention unset.
const DefaultFlowRetention = 256

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{AllowCompression: true}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return fmt.Errorf("config: upstream is required")
	}
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("config: invalid upstream %q: %w", c.Upstream, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("config: upstream scheme %q is not ws, wss, http, or https", u.Scheme)
	}
	for i, rule := range c.Rewrite {
		if !rule.Kill && rule.Set == "" {
			return fmt.Errorf("config: rewrite rule %d needs either kill or set", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.FlowRetention <= 0 {
		c.FlowRetention = DefaultFlowRetention
	}
}
