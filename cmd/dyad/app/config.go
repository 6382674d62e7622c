package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the CLI configuration assembled from flags, environment
// variables, .env files, and the config file, in that precedence.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool

	// Config file
	ConfigFile string

	// Account identities. They name the OAuth token files and appear
	// in logs and summaries.
	AccountA string
	AccountB string

	// Engine configuration
	StatePath           string
	Strategy            string
	SyncGroups          bool
	SyncPhotos          bool
	SimilarityThreshold float64
	MaxRetries          int

	// Assisted matching
	GeminiAPIKey string
	GeminiModel  string

	// Backups
	BackupDir       string
	BackupRetention int

	// Daemon
	Interval time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of
// precedence:
//  1. Command-line flags (applied by cobra after this runs)
//  2. Environment variables
//  3. .env files
//  4. Config file (~/.dyad.yaml)
//  5. Defaults
func LoadConfig() (*Config, error) {
	loadEnvFiles()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DYAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	bindSecrets()

	viper.SetDefault("sync_groups", true)
	viper.SetDefault("sync_photos", true)

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.AddConfigPath(".")
			viper.SetConfigType("yaml")
			viper.SetConfigName(".dyad")
		}
	}
	_ = viper.ReadInConfig()

	config := &Config{
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
		NoColor: viper.GetBool("no-color"),

		ConfigFile: viper.ConfigFileUsed(),

		AccountA: viper.GetString("account_a"),
		AccountB: viper.GetString("account_b"),

		StatePath:           viper.GetString("state_path"),
		Strategy:            viper.GetString("strategy"),
		SyncGroups:          viper.GetBool("sync_groups"),
		SyncPhotos:          viper.GetBool("sync_photos"),
		SimilarityThreshold: viper.GetFloat64("similarity_threshold"),
		MaxRetries:          viper.GetInt("max_retries"),

		GeminiAPIKey: viper.GetString("GEMINI_API_KEY"),
		GeminiModel:  viper.GetString("gemini_model"),

		BackupDir:       viper.GetString("backup_dir"),
		BackupRetention: viper.GetInt("backup_retention"),

		Interval: viper.GetDuration("interval"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", ""),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	// Defaults
	if config.AccountA == "" {
		config.AccountA = "personal"
	}
	if config.AccountB == "" {
		config.AccountB = "work"
	}
	if config.StatePath == "" {
		config.StatePath = filepath.Join(xdg.DataHome, "dyad", "state.db")
	}
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.BackupRetention == 0 {
		config.BackupRetention = 10
	}

	return config, nil
}

// UpdateFromFlags applies parsed persistent flag values, which take
// precedence over every other source.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files;
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// bindSecrets explicitly binds credential environment variables so
// they resolve without the DYAD_ prefix.
func bindSecrets() {
	for _, key := range []string{
		"GEMINI_API_KEY",
		"GOOGLE_CLIENT_ID",
		"GOOGLE_CLIENT_SECRET",
	} {
		_ = viper.BindEnv(key)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
