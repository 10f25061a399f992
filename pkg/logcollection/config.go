package logcollection

import (
	"path/filepath"
	"time"
)

// LogCollectionConfig configures capture of unit output
type LogCollectionConfig struct {
	Enabled bool `yaml:"enabled"`

	// Directory receives one rotating file per unit when FileOutput is set
	Directory  string `yaml:"directory,omitempty"`
	FileOutput bool   `yaml:"file_output,omitempty"`

	MaxSizeMB  int  `yaml:"max_size_mb,omitempty"`
	MaxBackups int  `yaml:"max_backups,omitempty"`
	MaxAgeDays int  `yaml:"max_age_days,omitempty"`
	Compress   bool `yaml:"compress,omitempty"`

	// A line longer than this ends capture of its stream; the rest of the stream is discarded
	MaxLineLength int `yaml:"max_line_length,omitempty"`

	// Upper bound on Stop waiting for readers still draining pipes
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`
}

// UnitLogConfig overrides collection for a single unit
type UnitLogConfig struct {
	Disabled bool   `yaml:"disabled,omitempty"`
	FileName string `yaml:"file_name,omitempty"`
}

const (
	defaultMaxLineLength = 64 * 1024
	defaultMaxSizeMB     = 50
	defaultMaxBackups    = 5
	defaultDrainTimeout  = 2 * time.Second
)

func DefaultLogCollectionConfig() LogCollectionConfig {
	return LogCollectionConfig{
		Enabled:       true,
		MaxSizeMB:     defaultMaxSizeMB,
		MaxBackups:    defaultMaxBackups,
		MaxLineLength: defaultMaxLineLength,
		DrainTimeout:  defaultDrainTimeout,
	}
}

func (c *LogCollectionConfig) setDefaults() {
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = defaultMaxLineLength
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = defaultMaxSizeMB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = defaultMaxBackups
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
}

func (c LogCollectionConfig) unitFilePath(unitID string, unitConfig UnitLogConfig) string {
	name := unitConfig.FileName
	if name == "" {
		name = unitID + ".log"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Directory, name)
}
