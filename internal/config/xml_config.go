// Package config provides XML-based configuration with environment overrides.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrMissingProjectRoot means no usable project root was configured. The
// server cannot start without one.
var ErrMissingProjectRoot = errors.New("project root not configured")

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"ApexLogStreamer"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Project tree holding the log directories
	Project ProjectConfig `xml:"Project"`

	// Tail subprocess and log writer
	Stream StreamConfig `xml:"Stream"`

	// Analysis agent and scanner rules
	Analysis AnalysisConfig `xml:"Analysis"`

	// Report history
	Storage StorageConfig `xml:"Storage"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	BodyLimit    string `xml:"BodyLimit"`
}

// ProjectConfig locates the log directories.
type ProjectConfig struct {
	Root            string `xml:"Root"`
	MainDirName     string `xml:"MainDirName"`
	AnalysisDirName string `xml:"AnalysisDirName"`
}

// StreamConfig contains tail subprocess settings
type StreamConfig struct {
	Command            string `xml:"Command"`
	TargetOrg          string `xml:"TargetOrg"`
	MaxSegmentBytes    int64  `xml:"MaxSegmentBytes"`
	BufferMaxBytes     int    `xml:"BufferMaxBytes"`
	StopTimeoutSeconds int    `xml:"StopTimeoutSeconds"`
}

// AnalysisConfig contains agent and scanner settings
type AnalysisConfig struct {
	AgentCommand   string `xml:"AgentCommand"`
	AgentArgs      string `xml:"AgentArgs"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
	RulesFile      string `xml:"RulesFile"`
	WatchRules     bool   `xml:"WatchRules"`
}

// StorageConfig contains report history settings
type StorageConfig struct {
	DataDirectory string `xml:"DataDirectory"`
	HistoryFile   string `xml:"HistoryFile"`
	EnableHistory bool   `xml:"EnableHistory"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	LogFormat               string `xml:"LogFormat"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "127.0.0.1",
			EnableCORS:   true,
			AllowOrigins: "*",
			BodyLimit:    "32M",
		},
		Project: ProjectConfig{
			Root:            ".",
			MainDirName:     ".sf-log",
			AnalysisDirName: ".sf-log_Analysis",
		},
		Stream: StreamConfig{
			Command:            "sf",
			MaxSegmentBytes:    1024 * 1024,
			BufferMaxBytes:     8 * 1024 * 1024,
			StopTimeoutSeconds: 5,
		},
		Analysis: AnalysisConfig{
			AgentCommand:   "claude",
			AgentArgs:      "-p",
			TimeoutSeconds: 300,
			WatchRules:     true,
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			HistoryFile:   "history.duckdb",
			EnableHistory: true,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFormat:               "text",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from XML file, creating it with defaults
// when missing.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Apex Log Streamer Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if root := os.Getenv("SFLOG_PROJECT_ROOT"); root != "" {
		c.Project.Root = root
	}
	if org := os.Getenv("SFLOG_TARGET_ORG"); org != "" {
		c.Stream.TargetOrg = org
	}
	if agent := os.Getenv("SFLOG_AGENT_CMD"); agent != "" {
		c.Analysis.AgentCommand = agent
	}
	if level := os.Getenv("SFLOG_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if c.Project.Root != "" && !filepath.IsAbs(c.Project.Root) {
		c.Project.Root = filepath.Join(configDir, c.Project.Root)
	}
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if c.Analysis.RulesFile != "" && !filepath.IsAbs(c.Analysis.RulesFile) {
		c.Analysis.RulesFile = filepath.Join(configDir, c.Analysis.RulesFile)
	}
}

// Validate checks the settings the server cannot run without.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Project.Root) == "" {
		return ErrMissingProjectRoot
	}
	info, err := os.Stat(c.Project.Root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingProjectRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrMissingProjectRoot, c.Project.Root)
	}
	if c.Project.MainDirName == "" || c.Project.AnalysisDirName == "" {
		return errors.New("log directory names must not be empty")
	}
	if c.Project.MainDirName == c.Project.AnalysisDirName {
		return errors.New("main and analysis log directories must differ")
	}
	return nil
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// HistoryPath returns the absolute path of the history database.
func (c *AppConfig) HistoryPath() string {
	if filepath.IsAbs(c.Storage.HistoryFile) {
		return c.Storage.HistoryFile
	}
	return filepath.Join(c.Storage.DataDirectory, c.Storage.HistoryFile)
}

// StopTimeout returns the stream stop timeout.
func (c *AppConfig) StopTimeout() time.Duration {
	return time.Duration(c.Stream.StopTimeoutSeconds) * time.Second
}

// AgentTimeout returns the analysis agent timeout.
func (c *AppConfig) AgentTimeout() time.Duration {
	return time.Duration(c.Analysis.TimeoutSeconds) * time.Second
}

// AgentArgs splits the configured agent arguments on whitespace.
func (c *AppConfig) AgentArgs() []string {
	return strings.Fields(c.Analysis.AgentArgs)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Storage.DataDirectory, err)
	}
	return nil
}
