// Package config provides process configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/crossmessenger/pkg/role"
	"github.com/morezero/crossmessenger/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Config holds crossmessenger configuration.
type Config struct {
	// COMMS: connect to NATS at COMMSURL, or start one in-process.
	COMMSURL          string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName         string `envconfig:"SERVICE_NAME" default:"crossmessenger"`
	COMMSEmbedded     bool   `envconfig:"COMMS_EMBEDDED" default:"false"`
	COMMSEmbeddedPort int    `envconfig:"COMMS_EMBEDDED_PORT" default:"4222"`

	// Messenger identity
	Group   string `envconfig:"MESSENGER_GROUP" default:"default"`
	Surface string `envconfig:"MESSENGER_SURFACE"`
	TabID   int    `envconfig:"MESSENGER_TAB_ID"`
	FrameID int    `envconfig:"MESSENGER_FRAME_ID"`

	// Messenger behaviour
	ReloadDebounce    time.Duration `envconfig:"MESSENGER_RELOAD_DEBOUNCE" default:"1s"`
	TabsQueryTimeout  time.Duration `envconfig:"MESSENGER_TABS_QUERY_TIMEOUT" default:"5s"`
	AgentVersion      string        `envconfig:"MESSENGER_AGENT_VERSION" default:"1.0.0"`
	VersionConstraint string        `envconfig:"MESSENGER_AGENT_VERSION_CONSTRAINT" default:">= 1.0.0, < 2.0.0"`

	// Database (optional for serve)
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RunMigrations  bool          `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath  string        `envconfig:"MIGRATION_PATH" default:"migrations"`
	JournalTimeout time.Duration `envconfig:"JOURNAL_TIMEOUT" default:"2s"`

	// Tab host
	TabsSeedFile string `envconfig:"TABS_SEED_FILE"`

	// HTTP health endpoint; 0 disables it.
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Probe describes this process to the role classifier. An empty surface
// means the process is not attached to any messenger and runs standalone.
func (c *Config) Probe() role.EnvProbe {
	return role.EnvProbe{
		Surface:   c.Surface,
		Messaging: strings.TrimSpace(c.Surface) != "",
	}
}

// Role is the role this process will run as.
func (c *Config) Role() role.Role {
	return role.Classify(c.Probe())
}

// HasDatabase reports whether a journal and tab table are configured.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// ValidateForServe checks required config when running a messenger process.
func (c *Config) ValidateForServe() error {
	switch strings.ToLower(strings.TrimSpace(c.Surface)) {
	case "", role.SurfaceBackground, role.SurfacePopup, role.SurfacePage:
	default:
		return fmt.Errorf("%s - MESSENGER_SURFACE %q must be background, popup, page or empty", logPrefix, c.Surface)
	}
	if c.Role() == role.PageAgent && c.TabID <= 0 {
		return fmt.Errorf("%s - MESSENGER_TAB_ID is required for a page surface", logPrefix)
	}
	if c.FrameID < 0 {
		return fmt.Errorf("%s - MESSENGER_FRAME_ID must not be negative", logPrefix)
	}
	if c.ReloadDebounce <= 0 {
		return fmt.Errorf("%s - MESSENGER_RELOAD_DEBOUNCE must be positive", logPrefix)
	}
	if c.TabsQueryTimeout <= 0 {
		return fmt.Errorf("%s - MESSENGER_TABS_QUERY_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.HasDatabase() && c.JournalTimeout <= 0 {
		return fmt.Errorf("%s - JOURNAL_TIMEOUT must be positive", logPrefix)
	}
	if _, err := semver.NewChecker(c.VersionConstraint); err != nil {
		return fmt.Errorf("%s - MESSENGER_AGENT_VERSION_CONSTRAINT: %w", logPrefix, err)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, seed).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
