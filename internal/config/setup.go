package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║           neosu - First Run Setup            ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Println("║  Let's connect you to a Bancho server.       ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("── Server ──")

	cfg.Bancho.Endpoint = promptString(reader, "Server endpoint (without c. or osu.)", cfg.Bancho.Endpoint)

	fmt.Println()
	fmt.Println("── Account ──")

	useOAuth := promptBool(reader, "Log in with an OAuth token instead of a password", cfg.Bancho.OAuthToken != "")
	if useOAuth {
		cfg.Bancho.OAuthToken = promptPassword(reader, "OAuth token")
		cfg.Bancho.Password = ""
	} else {
		cfg.Bancho.Username = promptString(reader, "Username", cfg.Bancho.Username)
		cfg.Bancho.Password = promptPassword(reader, "Password")
		cfg.Bancho.OAuthToken = ""
	}
	cfg.Bancho.Autologin = promptBool(reader, "Log in automatically on startup", true)
	cfg.Bancho.SubmitScores = promptBool(reader, "Submit scores (if the server has no preference)", cfg.Bancho.SubmitScores)

	fmt.Println()
	fmt.Println("── Storage ──")

	cfg.ApplicationData.Paths.DataDirectory = promptString(reader, "Data directory (avatars, replays)",
		getDefaultDataDir(cfg.ApplicationData.Paths.DataDirectory))

	fmt.Println()
	fmt.Println("── Local API ──")

	cfg.ApplicationData.API.Enabled = promptBool(reader, "Enable local REST API", cfg.ApplicationData.API.Enabled)
	if cfg.ApplicationData.API.Enabled {
		cfg.ApplicationData.API.Port = promptInt(reader, "REST API port", cfg.ApplicationData.API.Port)
	}

	fmt.Println()
	fmt.Println("── MQTT Telemetry ──")

	cfg.ApplicationData.MQTT.Enabled = promptBool(reader, "Publish session events over MQTT", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = promptString(reader, "MQTT broker host", cfg.ApplicationData.MQTT.BrokerURL)
	}

	// Validate before saving
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved successfully!")
	fmt.Println()

	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, prompt string) string {
	fmt.Printf("  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}

func getDefaultDataDir(current string) string {
	if current != "" && current != "data" {
		return current
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "neosu")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "neosu")
	}
	return "data"
}
