// Package config handles auctionhouse configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridable in tests to avoid finding real config
// files on developer/deploy machines.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/auctionhouse/config.yaml, /config/config.yaml,
// /etc/auctionhouse/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "auctionhouse", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/auctionhouse/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds all auctionhouse configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Auctions  []AuctionConfig `yaml:"auctions"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the bidder-facing TCP listener.
type ListenConfig struct {
	Address     string `yaml:"address"`    // Bind address (default: "" = all interfaces)
	Port        int    `yaml:"port"`
	MaxClients  int    `yaml:"max_clients"`  // default 1, a small pool of bidder connections
	MaxWaitSec  int    `yaml:"max_wait_sec"` // default 10, accept deadline
	SessionID   int    `yaml:"session_id"`   // default 1, treated as first-class configuration
	GracePeriod int    `yaml:"grace_sec"`    // default 5, pre-start and per-task grace
}

// ScheduleConfig is the pair of dependency DAGs over auction task ids,
// as consumed by the scheduler.
type ScheduleConfig struct {
	StartDeps []DependEdge `yaml:"start_deps"`
	EndDeps   []DependEdge `yaml:"end_deps"`
}

// DependEdge records "a depends on b" for either dependency graph.
type DependEdge struct {
	Task     int `yaml:"task"`
	DependsOn int `yaml:"depends_on"`
}

// AuctionConfig is one task block: an id, a registered auction type name,
// and arbitrary child key/value elements fed verbatim into the task's
// params.
type AuctionConfig struct {
	ID     int               `yaml:"id"`
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// MQTTConfig configures the optional telemetry export bridge. Disabled
// (no-op) when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"` // default "auctionhouse"
}

// Configured reports whether the MQTT export bridge has a broker to
// connect to.
func (c MQTTConfig) Configured() bool {
	return c.BrokerURL != ""
}

// DashboardConfig configures the optional read-only live dashboard.
// Disabled when Listen is empty.
type DashboardConfig struct {
	Listen string `yaml:"listen"` // e.g. ":8090"; empty disables the dashboard
}

// Configured reports whether the dashboard has a listen address.
func (c DashboardConfig) Configured() bool {
	return c.Listen != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${MQTT_PASSWORD}). This is a
	// convenience for container deployments; the recommended approach is
	// to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 9090
	}
	if c.Listen.MaxClients == 0 {
		c.Listen.MaxClients = 1
	}
	if c.Listen.MaxWaitSec == 0 {
		c.Listen.MaxWaitSec = 10
	}
	if c.Listen.SessionID == 0 {
		c.Listen.SessionID = 1
	}
	if c.Listen.GracePeriod == 0 {
		c.Listen.GracePeriod = 5
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "auctionhouse"
	}
	for i := range c.Auctions {
		if c.Auctions[i].Params == nil {
			c.Auctions[i].Params = map[string]string{}
		}
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Listen.MaxClients < 1 {
		return fmt.Errorf("listen.max_clients %d must be at least 1", c.Listen.MaxClients)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}

	ids := make(map[int]bool, len(c.Auctions))
	for _, a := range c.Auctions {
		if ids[a.ID] {
			return fmt.Errorf("auctions: duplicate task id %d", a.ID)
		}
		ids[a.ID] = true
		if a.Type == "" {
			return fmt.Errorf("auctions: task %d missing type", a.ID)
		}
	}
	for _, e := range c.Schedule.StartDeps {
		if err := validateEdge(ids, e, "start_deps"); err != nil {
			return err
		}
	}
	for _, e := range c.Schedule.EndDeps {
		if err := validateEdge(ids, e, "end_deps"); err != nil {
			return err
		}
	}

	return nil
}

func validateEdge(ids map[int]bool, e DependEdge, field string) error {
	if e.Task == e.DependsOn {
		return fmt.Errorf("schedule.%s: task %d cannot depend on itself", field, e.Task)
	}
	if !ids[e.Task] {
		return fmt.Errorf("schedule.%s: unknown task id %d", field, e.Task)
	}
	if !ids[e.DependsOn] {
		return fmt.Errorf("schedule.%s: unknown task id %d", field, e.DependsOn)
	}
	return nil
}

// TaskIDs returns the configured auction task ids in ascending order.
func (c *Config) TaskIDs() []int {
	ids := make([]int, 0, len(c.Auctions))
	for _, a := range c.Auctions {
		ids = append(ids, a.ID)
	}
	sort.Ints(ids)
	return ids
}

// Default returns a default configuration: a single ascending-auction
// task with no dependencies, suitable for local development.
func Default() *Config {
	cfg := &Config{
		Auctions: []AuctionConfig{
			{ID: 1, Type: "ascending", Params: map[string]string{}},
		},
	}
	cfg.applyDefaults()
	return cfg
}
