// Package config loads the engine's YAML configuration file, following the
// same LoadConfig(path)/defaulting shape the teacher project uses for its
// own config.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Filter   FilterConfig   `yaml:"filter"`
	PCAP     PCAPConfig     `yaml:"pcap"`
}

// LogConfig controls verbosity of the ingress/egress paths.
type LogConfig struct {
	Enable bool `yaml:"enable"`
	Debug  bool `yaml:"debug"`
	Level  int  `yaml:"level"`
}

// TimeoutsConfig overrides the default eviction thresholds of §4.2.
type TimeoutsConfig struct {
	UDPIdle      time.Duration `yaml:"udp_idle"`
	UDPIdleDNS   time.Duration `yaml:"udp_idle_dns"`
	TCPHandshake time.Duration `yaml:"tcp_handshake"`
	TCPEstab     time.Duration `yaml:"tcp_established"`
	TCPClosing   time.Duration `yaml:"tcp_closing"`
	TCPKeep      time.Duration `yaml:"tcp_keep"`
}

// FilterConfig controls owner-based allow-listing.
type FilterConfig struct {
	Enable        bool    `yaml:"enable"`
	AllowedOwners []int64 `yaml:"allowed_owners"`
	HostsFile     string  `yaml:"hosts_file"`
}

// PCAPConfig controls packet capture.
type PCAPConfig struct {
	Enable  bool   `yaml:"enable"`
	Path    string `yaml:"path"`
	MaxFile int64  `yaml:"max_file"`
}

// Default timeout values, per spec §4.2.
const (
	DefaultUDPIdle      = 180 * time.Second
	DefaultUDPIdleDNS   = 10 * time.Second
	DefaultTCPHandshake = 30 * time.Second
	DefaultTCPEstab     = 3600 * time.Second
	DefaultTCPClosing   = 30 * time.Second
	DefaultTCPKeep      = 300 * time.Second

	// DefaultMaxPCAPFile is MAX_PCAP_FILE from spec §4.7/§8 scenario 6.
	DefaultMaxPCAPFile = 64 * 1024 * 1024
)

// LoadConfig reads and defaults a Config from the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Timeouts.UDPIdle == 0 {
		c.Timeouts.UDPIdle = DefaultUDPIdle
	}
	if c.Timeouts.UDPIdleDNS == 0 {
		c.Timeouts.UDPIdleDNS = DefaultUDPIdleDNS
	}
	if c.Timeouts.TCPHandshake == 0 {
		c.Timeouts.TCPHandshake = DefaultTCPHandshake
	}
	if c.Timeouts.TCPEstab == 0 {
		c.Timeouts.TCPEstab = DefaultTCPEstab
	}
	if c.Timeouts.TCPClosing == 0 {
		c.Timeouts.TCPClosing = DefaultTCPClosing
	}
	if c.Timeouts.TCPKeep == 0 {
		c.Timeouts.TCPKeep = DefaultTCPKeep
	}
	if c.PCAP.MaxFile == 0 {
		c.PCAP.MaxFile = DefaultMaxPCAPFile
	}
}

// Default returns a Config populated with default values, for callers that
// do not load one from disk (e.g. embedding hosts).
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}
