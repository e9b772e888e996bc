package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bluesky/suitcase-core/internal/adapters/specfile"
	"github.com/bluesky/suitcase-core/internal/ports"
)

type Config struct {
	Policy   ports.Policy    `yaml:"policy"`
	Specfile specfile.Config `yaml:"specfile"`
	Broker   BrokerConfig    `yaml:"broker"`
	Export   ExportConfig    `yaml:"export"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	WAL      WALConfig       `yaml:"wal"`
}

type BrokerConfig struct {
	ConnString  string `yaml:"conn_string"`
	TablePrefix string `yaml:"table_prefix"`
}

// ExportConfig carries the HDF5 exporter defaults for the export command.
type ExportConfig struct {
	StreamName string   `yaml:"stream_name"`
	Fields     []string `yaml:"fields"`
	Timestamps *bool    `yaml:"timestamps"`
	UseUID     *bool    `yaml:"use_uid"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 10 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 5_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Broker.TablePrefix == "" {
		c.Broker.TablePrefix = "suitcase"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Export.Timestamps == nil {
		t := true
		c.Export.Timestamps = &t
	}
	if c.Export.UseUID == nil {
		t := true
		c.Export.UseUID = &t
	}

	c.Specfile.ApplyDefaults()
}

func (c *Config) validate() error {
	if err := c.Specfile.Validate(); err != nil {
		return fmt.Errorf("specfile config: %w", err)
	}
	if c.Broker.ConnString == "" {
		return fmt.Errorf("broker.conn_string is required")
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	return nil
}
