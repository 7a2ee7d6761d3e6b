package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/u3vlog/internal/buslog"
	"example.com/u3vlog/internal/common"
	"example.com/u3vlog/internal/stream"
	"example.com/u3vlog/internal/u3v"
)

const DefaultResultSuffix = "_result.txt"

type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// Config is the run configuration read from YAML. Zero values take the
// defaults applied by Default and Load.
type Config struct {
	OutputDir      string    `yaml:"outputDir"`
	MaxModuleLines int       `yaml:"maxModuleLines"`
	MaxModules     int       `yaml:"maxModules"`
	MaxDeviceID    int       `yaml:"maxDeviceID"`
	MaxPortID      int       `yaml:"maxPortID"`
	ResultSuffix   string    `yaml:"resultSuffix"`
	PreviewBytes   int       `yaml:"previewBytes"`
	Logs           LogConfig `yaml:"logs"`
}

func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads path and fills unset fields with defaults. Relative directories
// resolve against the directory holding the file.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, err
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.OutputDir = resolvePath(cfg.OutputDir)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.MaxModuleLines <= 0 {
		c.MaxModuleLines = buslog.DefaultMaxModuleLines
	}
	if c.MaxModules <= 0 {
		c.MaxModules = buslog.DefaultMaxModules
	}
	if c.MaxDeviceID <= 0 {
		c.MaxDeviceID = stream.DefaultMaxDeviceID
	}
	if c.MaxPortID <= 0 {
		c.MaxPortID = stream.DefaultMaxPortID
	}
	if c.ResultSuffix == "" {
		c.ResultSuffix = DefaultResultSuffix
	}
	if c.PreviewBytes <= 0 {
		c.PreviewBytes = u3v.DefaultPreviewBytes
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
}

// LogOptions converts the logs section for common.SetupLogging. An empty
// directory disables the rotating file.
func (c Config) LogOptions() common.LogOptions {
	return common.LogOptions{
		Directory:  c.Logs.Directory,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxAgeDays: c.Logs.MaxAgeDays,
		MaxBackups: c.Logs.MaxBackups,
		Compress:   c.Logs.Compress,
	}
}

// ResultPath derives the result file name from the input log path by
// replacing its extension with the result suffix.
func (c Config) ResultPath(input string) string {
	suffix := c.ResultSuffix
	if suffix == "" {
		suffix = DefaultResultSuffix
	}
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + suffix
}
