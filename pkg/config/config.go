package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var configDir string
var configFilePath string

// getConfigDir returns platform-specific config directory
func getConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "sidechain", "sync"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sidechain", "sync"), nil
}

// getSystemConfigPaths returns platform-specific system config paths
func getSystemConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{filepath.Join(os.Getenv("ProgramFiles"), "Sidechain", "sync", "config.toml")}
	}
	return []string{
		"/etc/sidechain/sync/config.toml",
		"/usr/local/etc/sidechain/sync/config.toml",
	}
}

// Init initializes the configuration. Precedence, lowest first: defaults,
// system config, user config, .env file, SIDECHAIN_* environment variables.
func Init(configPath string) error {
	var err error
	if configPath != "" {
		configDir = filepath.Dir(configPath)
		configFilePath = configPath
	} else {
		configDir, err = getConfigDir()
		if err != nil {
			return err
		}
		configFilePath = filepath.Join(configDir, "config.toml")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	// Missing .env is normal outside development
	_ = godotenv.Load()

	viper.Reset()
	viper.SetConfigType("toml")
	viper.SetEnvPrefix("SIDECHAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	for _, sysConfigPath := range getSystemConfigPaths() {
		if _, err := os.Stat(sysConfigPath); err == nil {
			viper.SetConfigFile(sysConfigPath)
			_ = viper.ReadInConfig()
			break
		}
	}

	viper.SetConfigFile(configFilePath)
	if _, err := os.Stat(configFilePath); err == nil {
		if err := viper.MergeInConfig(); err != nil {
			return err
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", "http://localhost:8787")
	viper.SetDefault("api.timeout", 30)
	viper.SetDefault("auth.token", "")

	viper.SetDefault("realtime.transport", "websocket")
	viper.SetDefault("realtime.url", "ws://localhost:8787/api/v1/ws")
	viper.SetDefault("realtime.debounce_ms", 1000)
	viper.SetDefault("realtime.window_ms", 60000)
	viper.SetDefault("realtime.max_invalidations", 10)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("postgres.dsn", "postgres://localhost:5432/sidechain?sslmode=disable")

	viper.SetDefault("storage.bucket", "sidechain-media")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.public_base_url", "")
	viper.SetDefault("storage.signed_url_ttl", 3600)

	viper.SetDefault("upload.tick_ms", 200)
	viper.SetDefault("upload.complete_delay_ms", 500)

	viper.SetDefault("resources.max_tracked", 50)
	viper.SetDefault("ledger.retain_ms", 0)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.environment", "development")
	viper.SetDefault("telemetry.sampling_rate", 1.0)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", filepath.Join(configDir, "sidechain-sync.log"))
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetString returns a string configuration value
func GetString(key string) string {
	value := viper.GetString(key)
	if key == "log.file" {
		return expandPath(value)
	}
	return value
}

// GetInt returns an int configuration value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool configuration value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float configuration value
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetMillis reads an integer millisecond key as a duration
func GetMillis(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Millisecond
}

// SetString sets a string configuration value and persists it
func SetString(key string, value string) error {
	viper.Set(key, value)
	return viper.WriteConfigAs(configFilePath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	return configDir
}

// GetConfigFilePath returns the user config file path
func GetConfigFilePath() string {
	return configFilePath
}
