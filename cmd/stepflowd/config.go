package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/group"
)

// Config is the file configuration of stepflowd. The same shape decodes
// from HCL and YAML.
type Config struct {
	Server  *ServerConfig  `hcl:"server,block" yaml:"server"`
	Store   StoreConfig    `hcl:"store,block" yaml:"store"`
	Cluster *ClusterConfig `hcl:"cluster,block" yaml:"cluster"`
	Groups  []GroupConfig  `hcl:"group,block" yaml:"groups"`
}

// ServerConfig mirrors stepflow.Config. Durations are Go duration strings.
type ServerConfig struct {
	Concurrency         int      `hcl:"concurrency,optional" yaml:"concurrency"`
	GlobalConcurrency   int      `hcl:"global_concurrency,optional" yaml:"global_concurrency"`
	Capabilities        []string `hcl:"capabilities,optional" yaml:"capabilities"`
	PollInterval        string   `hcl:"poll_interval,optional" yaml:"poll_interval"`
	LockTTL             string   `hcl:"lock_ttl,optional" yaml:"lock_ttl"`
	HeartbeatInterval   string   `hcl:"heartbeat_interval,optional" yaml:"heartbeat_interval"`
	DeadServerThreshold string   `hcl:"dead_server_threshold,optional" yaml:"dead_server_threshold"`
	ShutdownTimeout     string   `hcl:"shutdown_timeout,optional" yaml:"shutdown_timeout"`
}

// StoreConfig selects and addresses the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, redis, postgres, bun or mongo.
	Backend string `hcl:"backend" yaml:"backend"`
	// DSN is the connection string or URL of the backend.
	DSN string `hcl:"dsn,optional" yaml:"dsn"`
	// Database names the MongoDB database. Defaults to "stepflow".
	Database string `hcl:"database,optional" yaml:"database"`
	// Prefix namespaces Redis keys.
	Prefix string `hcl:"prefix,optional" yaml:"prefix"`
}

// ClusterConfig moves the server registry out of the main store.
type ClusterConfig struct {
	Kubernetes *KubernetesConfig `hcl:"kubernetes,block" yaml:"kubernetes"`
}

// KubernetesConfig addresses the cluster/k8s provider.
type KubernetesConfig struct {
	Namespace     string `hcl:"namespace" yaml:"namespace"`
	Kubeconfig    string `hcl:"kubeconfig,optional" yaml:"kubeconfig"`
	LeaseName     string `hcl:"lease_name,optional" yaml:"lease_name"`
	LabelSelector string `hcl:"label_selector,optional" yaml:"label_selector"`
}

// GroupConfig is the per-group ceiling of group.Config.
type GroupConfig struct {
	Name        string  `hcl:"name,label" yaml:"name"`
	Concurrency int     `hcl:"concurrency,optional" yaml:"concurrency"`
	Rate        float64 `hcl:"rate,optional" yaml:"rate"`
	Burst       int     `hcl:"burst,optional" yaml:"burst"`
}

var backends = []string{"memory", "redis", "postgres", "bun", "mongo"}

// LoadConfig reads path as HCL (.hcl) or YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl":
		file, diags := hclparse.NewParser().ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode YAML file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q: use .hcl, .yaml or .yml", ext)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "":
		errs = append(errs, errors.New("store.backend is required"))
	case "memory":
	case "redis", "postgres", "bun", "mongo":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for backend %q", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q (want one of %s)",
			c.Store.Backend, strings.Join(backends, ", ")))
	}
	if c.Cluster != nil && c.Cluster.Kubernetes != nil && c.Cluster.Kubernetes.Namespace == "" {
		errs = append(errs, errors.New("cluster.kubernetes.namespace is required"))
	}
	seen := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			errs = append(errs, errors.New("group name is required"))
		} else if seen[g.Name] {
			errs = append(errs, fmt.Errorf("group %q declared twice", g.Name))
		}
		seen[g.Name] = true
	}
	if _, err := c.ServerConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ServerConfig overlays the server block on stepflow.DefaultConfig.
func (c *Config) ServerConfig() (stepflow.Config, error) {
	cfg := stepflow.DefaultConfig()
	s := c.Server
	if s == nil {
		return cfg, nil
	}
	if s.Concurrency > 0 {
		cfg.Concurrency = s.Concurrency
	}
	cfg.GlobalConcurrency = s.GlobalConcurrency
	cfg.Capabilities = s.Capabilities

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"poll_interval", s.PollInterval, &cfg.PollInterval},
		{"lock_ttl", s.LockTTL, &cfg.LockTTL},
		{"heartbeat_interval", s.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"dead_server_threshold", s.DeadServerThreshold, &cfg.DeadServerThreshold},
		{"shutdown_timeout", s.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("server.%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

// GroupConfigs converts the group blocks.
func (c *Config) GroupConfigs() []group.Config {
	out := make([]group.Config, 0, len(c.Groups))
	for _, g := range c.Groups {
		out = append(out, group.Config{
			Name:           g.Name,
			MaxConcurrency: g.Concurrency,
			RateLimit:      g.Rate,
			RateBurst:      g.Burst,
		})
	}
	return out
}
