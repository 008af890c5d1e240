package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netscan/internal/db"
	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
)

const (
	configDirPerm  = 0755
	configFilePerm = 0644
)

// Config represents the complete netscan configuration.
type Config struct {
	Scanning    ScanningConfig    `yaml:"scanning" json:"scanning"`
	Discovery   DiscoveryConfig   `yaml:"discovery" json:"discovery"`
	Detection   DetectionConfig   `yaml:"detection" json:"detection"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`
	Report      ReportConfig      `yaml:"report" json:"report"`
	Logging     logging.Config    `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
}

// ScanningConfig holds port scan settings.
type ScanningConfig struct {
	// Maximum concurrent host×port probes
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=4096"`

	// Timeout for a single connect attempt
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// Attempts per port, retried only while filtered
	Attempts int `yaml:"attempts" json:"attempts" validate:"min=1,max=10"`

	// Concurrent probes against one host; 0 means no per-host cap
	PerHostLimit int `yaml:"per_host_limit" json:"per_host_limit" validate:"min=0"`

	// Transports to scan: tcp, udp
	Transports []string `yaml:"transports" json:"transports" validate:"min=1,dive,oneof=tcp udp"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// DiscoveryConfig holds ping sweep settings.
type DiscoveryConfig struct {
	// Probe mode: auto, icmp, udp (unprivileged ICMP) or tcp
	Mode string `yaml:"mode" json:"mode" validate:"oneof=auto icmp udp tcp"`

	Workers int           `yaml:"workers" json:"workers" validate:"min=1,max=4096"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	Retries int           `yaml:"retries" json:"retries" validate:"min=0,max=10"`

	// Ports tried by the TCP connect fallback
	ProbePorts []uint16 `yaml:"probe_ports" json:"probe_ports" validate:"min=1"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// DetectionConfig holds service detection settings.
type DetectionConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Workers int           `yaml:"workers" json:"workers" validate:"min=1,max=1024"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// Maximum bytes read from a service response
	ReadLimit int `yaml:"read_limit" json:"read_limit" validate:"min=16,max=1024"`

	SNMPCommunity string `yaml:"snmp_community" json:"snmp_community"`
}

// FingerprintConfig holds MAC/vendor resolution settings.
type FingerprintConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path of the neighbor table
	ARPTable string `yaml:"arp_table" json:"arp_table"`

	// Fall back to an nmap ping scan when the neighbor table has no entry
	UseNmap bool `yaml:"use_nmap" json:"use_nmap"`

	// OUI database in Wireshark manuf or IEEE oui.txt format
	OUIFile       string `yaml:"oui_file" json:"oui_file"`
	OUIURL        string `yaml:"oui_url" json:"oui_url" validate:"omitempty,url"`
	OUIMaxAgeDays int    `yaml:"oui_max_age_days" json:"oui_max_age_days" validate:"min=0"`
}

// ReportConfig holds report output settings.
type ReportConfig struct {
	// CSV failure summary, appended across sessions
	FailureCSV string `yaml:"failure_csv" json:"failure_csv" validate:"required"`

	// Optional JSON export of detected services
	ServicesJSON string `yaml:"services_json" json:"services_json"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" json:"requests_per_second" validate:"min=0"`
	BurstSize         int  `yaml:"burst_size" json:"burst_size" validate:"min=0"`
}

// MetricsConfig holds Prometheus export settings.
type MetricsConfig struct {
	// Write collected metrics in the node_exporter textfile format
	Textfile string `yaml:"textfile" json:"textfile"`
}

// DatabaseConfig enables optional session persistence.
type DatabaseConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	db.Config `yaml:",inline" json:",inline"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Workers:    100,
			Timeout:    5 * time.Second,
			Attempts:   1,
			Transports: []string{"tcp"},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 500,
				BurstSize:         100,
			},
		},
		Discovery: DiscoveryConfig{
			Mode:       "auto",
			Workers:    64,
			Timeout:    time.Second,
			Retries:    1,
			ProbePorts: []uint16{80, 443, 22},
		},
		Detection: DetectionConfig{
			Enabled:       true,
			Workers:       32,
			Timeout:       2 * time.Second,
			ReadLimit:     1024,
			SNMPCommunity: "public",
		},
		Fingerprint: FingerprintConfig{
			ARPTable:      "/proc/net/arp",
			OUIURL:        "https://www.wireshark.org/download/automated/data/manuf",
			OUIMaxAgeDays: 30,
		},
		Report: ReportConfig{
			FailureCSV: "netscan_protocol_summary.csv",
		},
		Logging:  logging.DefaultConfig(),
		Database: DatabaseConfig{Config: db.DefaultConfig()},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse %s config", strings.TrimPrefix(filepath.Ext(path), ".")), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed on '%s' rule", first.Tag()), first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if c.Scanning.RateLimit.Enabled && c.Scanning.RateLimit.RequestsPerSecond == 0 {
		return errors.ErrConfigInvalid("scanning.rate_limit.requests_per_second", 0)
	}
	if c.Discovery.RateLimit.Enabled && c.Discovery.RateLimit.RequestsPerSecond == 0 {
		return errors.ErrConfigInvalid("discovery.rate_limit.requests_per_second", 0)
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return errors.ErrConfigInvalid("database.host", c.Database.Host)
		}
		if c.Database.Database == "" {
			return errors.ErrConfigInvalid("database.database", c.Database.Database)
		}
		if c.Database.Username == "" {
			return errors.ErrConfigInvalid("database.username", c.Database.Username)
		}
	}
	return nil
}

// OUIMaxAge converts the configured cache age to a duration.
func (c *Config) OUIMaxAge() time.Duration {
	return time.Duration(c.Fingerprint.OUIMaxAgeDays) * 24 * time.Hour
}
