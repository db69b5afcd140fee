package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateBancho(&cfg.Bancho, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateBancho(data *BanchoConfig, result *ValidationResult) {
	endpoint := strings.TrimSpace(data.Endpoint)
	if endpoint == "" {
		result.AddError("bancho.endpoint", "server endpoint is required")
	} else if strings.Contains(endpoint, "://") || strings.Contains(endpoint, "/") {
		result.AddError("bancho.endpoint",
			fmt.Sprintf("endpoint must be a bare host name like %s, got %s", DefaultEndpoint, endpoint))
	} else if strings.HasPrefix(endpoint, "c.") || strings.HasPrefix(endpoint, "osu.") {
		result.AddWarning("bancho.endpoint",
			"endpoint should not include the c. or osu. prefix, it is added per request")
	}

	hasPassword := data.Password != ""
	hasToken := data.OAuthToken != ""
	if data.Autologin && !hasPassword && !hasToken {
		result.AddWarning("bancho.autologin", "autologin is on but no password or oauth token is set")
	}
	if hasPassword && strings.TrimSpace(data.Username) == "" {
		result.AddError("bancho.username", "username is required when a password is set")
	}
	if hasPassword && hasToken {
		result.AddWarning("bancho.oauth_token", "both password and oauth token are set, the password wins")
	}

	for name := range data.Vars {
		if strings.TrimSpace(name) == "" {
			result.AddError("bancho.vars", "variable names cannot be empty")
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if strings.TrimSpace(data.Paths.DataDirectory) == "" {
		result.AddError("application_data.paths.data_directory", "data directory is required")
	} else if info, err := os.Stat(data.Paths.DataDirectory); err == nil && !info.IsDir() {
		result.AddError("application_data.paths.data_directory",
			fmt.Sprintf("not a directory: %s", data.Paths.DataDirectory))
	}

	// Replay cleaner
	if data.ReplayCleaner.Enabled {
		if data.ReplayCleaner.RetentionDays < 1 {
			result.AddError("application_data.replay_cleaner.retention_days",
				"retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", data.ReplayCleaner.CleanupTime); err != nil {
			result.AddError("application_data.replay_cleaner.cleanup_time",
				fmt.Sprintf("cleanup time must be HH:MM, got %q", data.ReplayCleaner.CleanupTime))
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)

		if data.API.TLSEnabled {
			if strings.TrimSpace(data.API.TLSCertFile) == "" {
				result.AddError("application_data.api.tls_cert_file",
					"TLS certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(data.API.TLSKeyFile) == "" {
				result.AddError("application_data.api.tls_key_file",
					"TLS key file is required when TLS is enabled")
			}
		}

		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}

		if ip := net.ParseIP(data.API.ListenAddress); ip != nil && !ip.IsLoopback() && data.API.AuthToken == "" {
			result.AddWarning("application_data.api.auth_token",
				"API listens on a non-loopback address without an auth token")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
