// Package config loads per-resource timing policies from YAML so they can be
// tuned without a rebuild.
//
//	resources:
//	  userProfile:
//	    retry_after: 30s
//	    stale_after: 5m
//	    expire_after: never
//	    persist: false
//	    dependencies:
//	      - key: currentPage
//	        stale_on_change: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/unkn0wn-root/asyncache"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from Go duration syntax ("90s", "15m") or
// the word "never", which maps to asyncache.Never.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", n.Line, err)
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "never") {
		*d = Duration(asyncache.Never)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	if v <= 0 {
		return fmt.Errorf("line %d: duration must be positive, got %q", n.Line, s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	if time.Duration(d) == asyncache.Never {
		return "never", nil
	}
	return time.Duration(d).String(), nil
}

// Dependency mirrors asyncache.DependencyKey without the equality function.
type Dependency struct {
	Key           string `yaml:"key"`
	StaleOnChange bool   `yaml:"stale_on_change,omitempty"`
	AllowBlank    bool   `yaml:"allow_blank,omitempty"`
}

// Policy holds the tunables of one resource. Zero fields leave the options
// they are applied to untouched.
type Policy struct {
	RetryAfter   Duration     `yaml:"retry_after,omitempty"`
	StaleAfter   Duration     `yaml:"stale_after,omitempty"`
	ExpireAfter  Duration     `yaml:"expire_after,omitempty"`
	Persist      *bool        `yaml:"persist,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
}

// Config maps resource names to policies.
type Config struct {
	Resources map[string]Policy `yaml:"resources"`
}

// Load parses a policy document. Unknown fields are rejected.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{Resources: map[string]Policy{}}, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Resources == nil {
		c.Resources = map[string]Policy{}
	}
	return &c, nil
}

// LoadFile reads and parses the policy file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Load(bytes.NewReader(data))
}

func (c *Config) validate() error {
	for name, p := range c.Resources {
		seen := make(map[string]struct{}, len(p.Dependencies))
		for i, d := range p.Dependencies {
			if d.Key == "" {
				return fmt.Errorf("config: resources.%s.dependencies[%d]: key is required", name, i)
			}
			if _, dup := seen[d.Key]; dup {
				return fmt.Errorf("config: resources.%s.dependencies[%d]: duplicate key %q", name, i, d.Key)
			}
			seen[d.Key] = struct{}{}
		}
	}
	return nil
}

// Policy returns the policy for name.
func (c *Config) Policy(name string) (Policy, bool) {
	p, ok := c.Resources[name]
	return p, ok
}

func (p Policy) applyTimers(t *asyncache.Timers) {
	if p.RetryAfter != 0 {
		t.RetryAfter = time.Duration(p.RetryAfter)
	}
	if p.StaleAfter != 0 {
		t.StaleAfter = time.Duration(p.StaleAfter)
	}
	if p.ExpireAfter != 0 {
		t.ExpireAfter = time.Duration(p.ExpireAfter)
	}
}

// DependencyKeys converts the policy's dependencies.
func (p Policy) DependencyKeys() []asyncache.DependencyKey {
	if len(p.Dependencies) == 0 {
		return nil
	}
	out := make([]asyncache.DependencyKey, len(p.Dependencies))
	for i, d := range p.Dependencies {
		out[i] = asyncache.DependencyKey{Key: d.Key, StaleOnChange: d.StaleOnChange, AllowBlank: d.AllowBlank}
	}
	return out
}

// ApplyResource copies the policy for o.Name into o, if there is one.
func ApplyResource[T any](c *Config, o *asyncache.ResourceOptions[T]) bool {
	p, ok := c.Policy(o.Name)
	if !ok {
		return false
	}
	p.applyTimers(&o.Timers)
	if p.Persist != nil {
		o.DisablePersist = !*p.Persist
	}
	if deps := p.DependencyKeys(); deps != nil {
		o.Dependencies = deps
	}
	return true
}

// ApplyResources copies the policy for o.Name into o. Keyed collections have
// no dependencies; a policy listing some is an error.
func ApplyResources[T any](c *Config, o *asyncache.ResourcesOptions[T]) (bool, error) {
	p, ok := c.Policy(o.Name)
	if !ok {
		return false, nil
	}
	if len(p.Dependencies) > 0 {
		return false, fmt.Errorf("config: resources.%s: keyed collections do not support dependencies", o.Name)
	}
	p.applyTimers(&o.Timers)
	if p.Persist != nil {
		o.DisablePersist = !*p.Persist
	}
	return true, nil
}

// ApplyCollection copies the policy for o.Name into o, if there is one.
func ApplyCollection[T, R any](c *Config, o *asyncache.CollectionOptions[T, R]) bool {
	p, ok := c.Policy(o.Name)
	if !ok {
		return false
	}
	p.applyTimers(&o.Timers)
	if p.Persist != nil {
		o.Persist = *p.Persist
	}
	if deps := p.DependencyKeys(); deps != nil {
		o.Dependencies = deps
	}
	return true
}
