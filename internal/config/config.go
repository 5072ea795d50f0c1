package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int
	DBPath        string
	SourcesPath   string
	IngestPort    int
	IngestParser  string
	IngestSource  string
	Workers       int
	RetentionDays int
	LogLevel      string
	Debug         bool

	Sources []SourceDef
}

// SourceDef is one log file to read, as listed in the sources file.
type SourceDef struct {
	Name    string `yaml:"name" json:"name"`
	Path    string `yaml:"path" json:"path"`
	Parser  string `yaml:"parser" json:"parser"`
	Follow  bool   `yaml:"follow" json:"follow"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type sourcesFile struct {
	Sources []SourceDef `yaml:"sources"`
}

func Load() *Config {
	return &Config{
		Port:          getEnvInt("LOGTOOLS_PORT", 9102),
		DBPath:        getEnv("LOGTOOLS_DB_PATH", "data/logtools.db"),
		SourcesPath:   getEnv("LOGTOOLS_SOURCES_PATH", "sources.yaml"),
		IngestPort:    getEnvInt("LOGTOOLS_INGEST_PORT", 0),
		IngestParser:  getEnv("LOGTOOLS_INGEST_PARSER", "raw"),
		IngestSource:  getEnv("LOGTOOLS_INGEST_SOURCE", "ingest"),
		Workers:       getEnvInt("LOGTOOLS_WORKERS", 4),
		RetentionDays: getEnvInt("LOGTOOLS_RETENTION_DAYS", 7),
		LogLevel:      getEnv("LOGTOOLS_LOG_LEVEL", "info"),
		Debug:         getEnvBool("LOGTOOLS_DEBUG", false),
	}
}

// LoadSources reads the sources file into c.Sources. A missing file leaves
// the list empty.
func (c *Config) LoadSources() error {
	data, err := os.ReadFile(c.SourcesPath)
	if errors.Is(err, os.ErrNotExist) {
		c.Sources = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode sources file %s: %w", c.SourcesPath, err)
	}
	for i := range f.Sources {
		if f.Sources[i].Parser == "" {
			f.Sources[i].Parser = "raw"
		}
		if f.Sources[i].Name == "" {
			f.Sources[i].Name = f.Sources[i].Path
		}
		if f.Sources[i].Path == "" {
			return fmt.Errorf("source %d in %s: missing path", i, c.SourcesPath)
		}
	}
	c.Sources = f.Sources
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
