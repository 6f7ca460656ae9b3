package hostconfig

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/beeper/webchat-bridge/pkg/bridgeutil"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the host process configuration.
type Config struct {
	Listen         string            `yaml:"listen"`
	SessionKey     string            `yaml:"session_key"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	Agent          AgentConfig       `yaml:"agent"`
	Transcripts    TranscriptsConfig `yaml:"transcripts"`
	EnqueueTimeout time.Duration     `yaml:"enqueue_timeout"`
	Logging        zeroconfig.Config `yaml:"logging"`
}

type AgentConfig struct {
	Binary        string   `yaml:"binary"`
	Args          []string `yaml:"args"`
	WorkDir       string   `yaml:"workdir"`
	Env           []string `yaml:"env"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

type TranscriptsConfig struct {
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir"`
	StoreFile string `yaml:"store_file"`
	Database  string `yaml:"database"`
}

// Load reads the config at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithDefaults fills unset fields and expands ~ in paths.
func (c *Config) WithDefaults() *Config {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = "127.0.0.1:18790"
	}
	if strings.TrimSpace(c.SessionKey) == "" {
		c.SessionKey = "main"
	}
	if strings.TrimSpace(c.Agent.Binary) == "" {
		c.Agent.Binary = "openclaw"
	}
	if c.Agent.WorkDir == "" {
		c.Agent.WorkDir = "~/.openclaw"
	}
	c.Agent.WorkDir = bridgeutil.ExpandHome(c.Agent.WorkDir)
	if c.Agent.MaxConcurrent < 0 {
		c.Agent.MaxConcurrent = 0
	}
	c.Transcripts.Backend = strings.ToLower(strings.TrimSpace(c.Transcripts.Backend))
	if c.Transcripts.Backend == "" {
		c.Transcripts.Backend = BackendFile
	}
	if c.Transcripts.Dir == "" {
		c.Transcripts.Dir = "~/.openclaw/sessions"
	}
	c.Transcripts.Dir = bridgeutil.ExpandHome(c.Transcripts.Dir)
	if strings.TrimSpace(c.Transcripts.StoreFile) == "" {
		c.Transcripts.StoreFile = "sessions.json"
	}
	if c.Transcripts.Database == "" && c.Transcripts.Backend == BackendSQLite {
		c.Transcripts.Database = filepath.Join(c.Transcripts.Dir, "webchat.db")
	}
	c.Transcripts.Database = bridgeutil.ExpandHome(c.Transcripts.Database)
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 10 * time.Second
	}
	if c.Logging.MinLevel == nil {
		c.Logging.MinLevel = ptr.Ptr(zerolog.DebugLevel)
	}
	if len(c.Logging.Writers) == 0 {
		c.Logging.Writers = []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeStdout,
			Format: zeroconfig.LogFormatPrettyColored,
		}}
	}
	return c
}

func (c *Config) Validate() error {
	switch c.Transcripts.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown transcripts backend %q", c.Transcripts.Backend)
	}
	return nil
}
