package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Config holds all configuration for a storage node
type Config struct {
	// Node identification
	NodeID        string
	Host          string
	Port          int
	AdvertiseAddr string // Address peers use to reach us; defaults to http://Host:Port

	// Bootstrap registry
	BootstrapURL       string
	RegisterAttempts   int           // Bounded number of registration attempts
	RegisterRetryDelay time.Duration // Fixed delay between attempts
	RegisterTimeout    time.Duration // Per-attempt timeout
	SyncInterval       time.Duration // Periodic peer import; 0 disables

	// Routing
	ForwardTimeout time.Duration // Timeout for a forwarded operation

	// Liveness probe
	ProbeAttempts int
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// Random-peer messaging
	GossipEnabled  bool
	GossipInterval time.Duration

	// Persistence
	SnapshotPath string // Empty disables snapshots
	DataDir      string // Directory for file exchange; empty disables it

	// Logging
	LogLevel  string // trace, debug, info, warn, error
	LogFormat string // json, console
	LogFile   string // Optional rotated log file
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		NodeID:             uuid.NewString(),
		Host:               "127.0.0.1",
		Port:               5001,
		RegisterAttempts:   5,
		RegisterRetryDelay: 2 * time.Second,
		RegisterTimeout:    5 * time.Second,
		SyncInterval:       10 * time.Second,
		ForwardTimeout:     5 * time.Second,
		ProbeAttempts:      3,
		ProbeInterval:      1 * time.Second,
		ProbeTimeout:       2 * time.Second,
		GossipEnabled:      false,
		GossipInterval:     5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Address returns the address this node registers under.
func (c *Config) Address() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// ListenAddr returns the host:port to bind to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node ID cannot be empty")
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if err := validateURL("advertise address", c.AdvertiseAddr); err != nil {
		return err
	}
	if err := validateURL("bootstrap URL", c.BootstrapURL); err != nil {
		return err
	}
	if c.RegisterAttempts < 1 {
		return fmt.Errorf("register attempts must be at least 1, got %d", c.RegisterAttempts)
	}
	if c.RegisterRetryDelay < 0 || c.SyncInterval < 0 || c.ProbeInterval < 0 {
		return fmt.Errorf("intervals cannot be negative")
	}
	if c.RegisterTimeout <= 0 || c.ForwardTimeout <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.ProbeAttempts < 1 {
		return fmt.Errorf("probe attempts must be at least 1, got %d", c.ProbeAttempts)
	}
	if c.GossipEnabled && c.GossipInterval <= 0 {
		return fmt.Errorf("gossip interval must be positive when gossip is enabled")
	}
	return nil
}

// RegistryConfig holds configuration for the bootstrap registry process
type RegistryConfig struct {
	Host      string
	Port      int
	LogLevel  string
	LogFormat string
}

// DefaultRegistryConfig returns the registry defaults
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		Host:      "0.0.0.0",
		Port:      8000,
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// ListenAddr returns the host:port to bind to.
func (c *RegistryConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid
func (c *RegistryConfig) Validate() error {
	return validatePort(c.Port)
}

// MonitorConfig holds configuration for the dashboard process
type MonitorConfig struct {
	Host          string
	Port          int
	BootstrapURL  string
	PollInterval  time.Duration
	ListTimeout   time.Duration
	ScrapeTimeout time.Duration
	DashboardDir  string // Static files served at /; empty disables
	LogLevel      string
	LogFormat     string
}

// DefaultMonitorConfig returns the monitor defaults
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Host:          "0.0.0.0",
		Port:          9000,
		BootstrapURL:  "http://bootstrap:8000",
		PollInterval:  2 * time.Second,
		ListTimeout:   3 * time.Second,
		ScrapeTimeout: 2 * time.Second,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// ListenAddr returns the host:port to bind to.
func (c *MonitorConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid
func (c *MonitorConfig) Validate() error {
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.BootstrapURL == "" {
		return fmt.Errorf("bootstrap URL cannot be empty")
	}
	if err := validateURL("bootstrap URL", c.BootstrapURL); err != nil {
		return err
	}
	if c.PollInterval <= 0 || c.ListTimeout <= 0 || c.ScrapeTimeout <= 0 {
		return fmt.Errorf("poll interval and timeouts must be positive")
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// validateURL accepts an empty value; anything else must be an absolute
// http(s) URL.
func validateURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s %q: want http(s)://host:port", name, raw)
	}
	return nil
}
