// Package conf defines the application settings and the viper-backed
// loading of the YAML configuration file with environment overrides.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig holds log file settings shared by all services.
type LogConfig struct {
	Enabled    bool   // true to write this service's log to a file
	Path       string // log file path
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// SQLiteSettings holds SQLite output settings.
type SQLiteSettings struct {
	Enabled bool   // true to enable sqlite storage
	Path    string // path to sqlite database
}

// MySQLSettings holds MySQL output settings.
type MySQLSettings struct {
	Enabled  bool   // true to enable mysql storage
	Username string // mysql username
	Password string // mysql password
	Database string // mysql database name
	Host     string // mysql server host
	Port     string // mysql server port
}

// SpeechSettings configures the external speech-to-text provider.
type SpeechSettings struct {
	Provider       string  // speech provider name, e.g. "deepgram"
	URL            string  // streaming endpoint URL (ws:// or wss://)
	BatchURL       string  // prerecorded endpoint URL for audio uploads
	APIKey         string  // provider API key
	Language       string  // BCP-47 language hint passed to the provider
	SampleRate     int     // PCM sample rate of the audio sent upstream
	Channels       int     // audio channel count
	MinConfidence  float64 // word results below this confidence are dropped
	ReconnectDelay string  // delay before the single reconnect attempt, duration string
}

// SessionSettings holds defaults applied when creating a session.
type SessionSettings struct {
	DefaultTableCount int    // tables created per new session
	DefaultMaxSize    int    // max active participants per table
	DefaultLanguage   string // default session language
}

// RealtimeSettings tunes the broadcast fan-out.
type RealtimeSettings struct {
	SubscriberBuffer  int // per-subscriber event queue length
	HeartbeatSeconds  int // SSE heartbeat interval
	PreviewRateLimit  int // max transcript-preview events per second per table
	ShutdownTimeoutMS int // graceful shutdown timeout for in-flight requests
}

// SentrySettings holds the opt-in telemetry configuration.
type SentrySettings struct {
	Enabled     bool   // true to enable Sentry telemetry (opt-in)
	DSN         string // Sentry DSN
	Environment string // deployment environment tag
	Debug       bool   // true to enable Sentry SDK debug output
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version string `yaml:"-"` // version from build

	Main struct {
		Name string    // name of this node, used to identify event sources
		Log  LogConfig // main application log
	}

	WebServer struct {
		Enabled bool      // true to enable the web server
		Port    string    // port for the web server
		Log     LogConfig // web server request log
	}

	Output struct {
		SQLite SQLiteSettings
		MySQL  MySQLSettings
	}

	Speech   SpeechSettings
	Session  SessionSettings
	Realtime RealtimeSettings
	Sentry   SentrySettings
}

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("worldcafe")
	viper.AutomaticEnv()

	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config to the first
// config path and re-reads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetDefaultConfigPaths returns the config search paths: the user config
// directory followed by the working directory.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "world-cafe"))
	}
	paths = append(paths, ".")
	return paths, nil
}
