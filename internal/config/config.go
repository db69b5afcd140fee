// Package config handles configuration loading, validation, and persistence
// for the neosu Bancho client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultEndpoint   = "neosu.net"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Bancho          BanchoConfig    `json:"bancho"`
	ApplicationData ApplicationData `json:"application_data"`
}

// BanchoConfig contains the online session settings.
type BanchoConfig struct {
	// Server, e.g. "neosu.net". Requests go to c.<endpoint>, osu.<endpoint>
	// and a.<endpoint>.
	Endpoint string `json:"endpoint"`

	// Credentials
	Username   string `json:"username"`
	Password   string `json:"password"`
	OAuthToken string `json:"oauth_token"`

	Autologin          bool `json:"autologin"`
	SubmitScores       bool `json:"submit_scores"`
	NotifyFriendStatus bool `json:"notify_friend_status"`

	ClientVersion string `json:"client_version"`
	InstallID     string `json:"install_id"`

	// User overrides of client variables not covered above.
	Vars map[string]string `json:"vars"`
}

// ApplicationData contains daemon configuration.
type ApplicationData struct {
	Paths         PathsConfig         `json:"paths"`
	API           APIConfig           `json:"api"`
	ReplayCleaner ReplayCleanerConfig `json:"replay_cleaner"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Logging       LoggingConfig       `json:"logging"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	DataDirectory string `json:"data_directory"`
	Database      string `json:"database"`
}

// APIConfig holds local REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	ListenAddress  string   `json:"listen_address"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthToken      string   `json:"auth_token"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// ReplayCleanerConfig holds replay and avatar cache cleanup settings.
type ReplayCleanerConfig struct {
	Enabled             bool   `json:"enabled"`
	CleanupTime         string `json:"cleanup_time"`
	RetentionDays       int    `json:"retention_days"`
	AvatarRetentionDays int    `json:"avatar_retention_days"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bancho: BanchoConfig{
			Endpoint:           DefaultEndpoint,
			NotifyFriendStatus: true,
			Vars:               map[string]string{},
		},
		ApplicationData: ApplicationData{
			Paths: PathsConfig{
				DataDirectory: "data",
				Database:      "neosu.db",
			},
			API: APIConfig{
				Enabled:       true,
				ListenAddress: "127.0.0.1",
				Port:          DefaultAPIPort,
				RateLimitRPS:  50,
			},
			ReplayCleaner: ReplayCleanerConfig{
				Enabled:             true,
				CleanupTime:         "04:00",
				RetentionDays:       30,
				AvatarRetentionDays: 7,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
				Topic:   "neosu",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.ensureInstallID()
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	cfg.ensureInstallID()
	if cfg.Bancho.Vars == nil {
		cfg.Bancho.Vars = map[string]string{}
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// ensureInstallID assigns a random install id the first time the client runs.
func (c *Config) ensureInstallID() {
	if c.Bancho.InstallID == "" {
		c.Bancho.InstallID = uuid.NewString()
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetBancho returns a copy of the session configuration.
func (c *Config) GetBancho() BanchoConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.Bancho
	b.Vars = make(map[string]string, len(c.Bancho.Vars))
	for k, v := range c.Bancho.Vars {
		b.Vars[k] = v
	}
	return b
}

// SetBancho updates the session configuration.
func (c *Config) SetBancho(data BanchoConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bancho = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateBanchoField updates a specific field in the session configuration
// by its JSON name.
func (c *Config) UpdateBanchoField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Bancho)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown bancho field %s", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var next BanchoConfig
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Bancho = next

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// DataDir returns the root for avatars/ and replays/.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData.Paths.DataDirectory
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bancho.Username == "" && c.Bancho.OAuthToken == ""
}

// reload replaces the file-backed fields with what is currently on disk.
func (c *Config) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.path, err)
	}

	next := DefaultConfig()
	if err := json.Unmarshal(data, next); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", c.path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if next.Bancho.InstallID == "" {
		next.Bancho.InstallID = c.Bancho.InstallID
	}
	if next.Bancho.Vars == nil {
		next.Bancho.Vars = map[string]string{}
	}
	c.Bancho = next.Bancho
	c.ApplicationData = next.ApplicationData
	return nil
}

// BindVars seeds the registry from the session configuration and writes
// later changes of persisted variables back to config.json.
func (c *Config) BindVars(v *Vars) {
	b := c.GetBancho()
	seed := map[string]string{
		VarAutologin:          strconv.FormatBool(b.Autologin),
		VarServer:             b.Endpoint,
		VarName:               b.Username,
		VarPassword:           b.Password,
		VarOAuthToken:         b.OAuthToken,
		VarSubmitScores:       strconv.FormatBool(b.SubmitScores),
		VarNotifyFriendStatus: strconv.FormatBool(b.NotifyFriendStatus),
	}
	for name, value := range b.Vars {
		seed[name] = value
	}
	for name, value := range seed {
		if value == "" && (name == VarServer || name == VarName) {
			continue
		}
		if err := v.SetInternal(name, value); err != nil {
			log.Warn().Err(err).Str("var", name).Msg("ignoring saved variable")
		}
	}

	v.OnChange(func(changed Var) {
		if changed.Flags&FlagPersist == 0 {
			return
		}
		c.mu.Lock()
		switch changed.Name {
		case VarAutologin:
			c.Bancho.Autologin = changed.Bool()
		case VarServer:
			c.Bancho.Endpoint = changed.Value
		case VarName:
			c.Bancho.Username = changed.Value
		case VarPassword:
			c.Bancho.Password = changed.Value
		case VarOAuthToken:
			c.Bancho.OAuthToken = changed.Value
		case VarSubmitScores:
			c.Bancho.SubmitScores = changed.Bool()
		case VarNotifyFriendStatus:
			c.Bancho.NotifyFriendStatus = changed.Bool()
		default:
			if c.Bancho.Vars == nil {
				c.Bancho.Vars = map[string]string{}
			}
			c.Bancho.Vars[changed.Name] = changed.Value
		}
		c.mu.Unlock()

		if c.path == "" {
			return
		}
		if err := c.Save(); err != nil {
			log.Warn().Err(err).Str("var", changed.Name).Msg("failed to persist variable")
		}
	})
}
