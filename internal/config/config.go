package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Extensions ExtensionsConfig `yaml:"extensions" json:"extensions"`
	Plugins    PluginConfig     `yaml:"plugins" json:"plugins"`
	Remote     RemoteConfig     `yaml:"remote" json:"remote"`
	Updates    UpdatesConfig    `yaml:"updates" json:"updates"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"VVF_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"VVF_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"VVF_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"VVF_WRITE_TIMEOUT" default:"30s"`
	Mode         string        `yaml:"mode" json:"mode" env:"GIN_MODE" default:"release"`
}

// DatabaseConfig selects and configures the gorm backend
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"vvf"`
	Password     string `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"vvf"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"VVF_DATABASE_PATH"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// StoreConfig selects the key/value backend for priorities and enablement
type StoreConfig struct {
	Backend  string `yaml:"backend" json:"backend" env:"VVF_STORE_BACKEND" default:"database"`
	RedisURL string `yaml:"redis_url" json:"redis_url" env:"VVF_REDIS_URL" default:"redis://localhost:6379/0"`
	Prefix   string `yaml:"prefix" json:"prefix" env:"VVF_STORE_PREFIX" default:"vvf"`
}

// ExtensionsConfig holds the persisted-key conventions
type ExtensionsConfig struct {
	PriorityNamespace string `yaml:"priority_namespace" json:"priority_namespace" env:"VVF_PRIORITY_NAMESPACE" default:"priority"`
	SettingsNamespace string `yaml:"settings_namespace" json:"settings_namespace" env:"VVF_SETTINGS_NAMESPACE" default:"settings"`
	// Kinds limits which capability kinds get a runtime. Empty means all.
	Kinds []string `yaml:"kinds" json:"kinds" env:"VVF_KINDS"`
}

// PluginConfig holds discovery and loading configuration
type PluginConfig struct {
	DataDir           string        `yaml:"data_dir" json:"data_dir" env:"VVF_DATA_DIR" default:"./data"`
	PackagesDir       string        `yaml:"packages_dir" json:"packages_dir" env:"VVF_PACKAGES_DIR"`
	SideloadDir       string        `yaml:"sideload_dir" json:"sideload_dir" env:"VVF_SIDELOAD_DIR"`
	CacheDir          string        `yaml:"cache_dir" json:"cache_dir" env:"VVF_CACHE_DIR"`
	SideloadPatterns  []string      `yaml:"sideload_patterns" json:"sideload_patterns" env:"VVF_SIDELOAD_PATTERNS"`
	EnableHotReload   bool          `yaml:"enable_hot_reload" json:"enable_hot_reload" env:"VVF_HOT_RELOAD" default:"true"`
	Debounce          time.Duration `yaml:"debounce" json:"debounce" env:"VVF_WATCH_DEBOUNCE" default:"500ms"`
	Preload           bool          `yaml:"preload" json:"preload" env:"VVF_PRELOAD" default:"false"`
	WorkerCount       int           `yaml:"worker_count" json:"worker_count" env:"VVF_WORKER_COUNT" default:"0"`
	StartTimeout      time.Duration `yaml:"start_timeout" json:"start_timeout" env:"VVF_PLUGIN_START_TIMEOUT" default:"30s"`
	ScriptTimeout     time.Duration `yaml:"script_timeout" json:"script_timeout" env:"VVF_SCRIPT_TIMEOUT" default:"10s"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" json:"http_timeout" env:"VVF_HTTP_TIMEOUT" default:"30s"`
	HTTPRetries       int           `yaml:"http_retries" json:"http_retries" env:"VVF_HTTP_RETRIES" default:"3"`
	DisableBuiltins   bool          `yaml:"disable_builtins" json:"disable_builtins" env:"VVF_DISABLE_BUILTINS" default:"false"`
	SubtitleSearchDir string        `yaml:"subtitle_search_dir" json:"subtitle_search_dir" env:"VVF_SUBTITLE_DIR"`
}

// RemoteConfig configures the remote descriptor index
type RemoteConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" env:"VVF_REMOTE_ENABLED" default:"false"`
	IndexURL string        `yaml:"index_url" json:"index_url" env:"VVF_REMOTE_INDEX_URL"`
	Schedule string        `yaml:"schedule" json:"schedule" env:"VVF_REMOTE_SCHEDULE" default:"@every 30m"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" env:"VVF_REMOTE_TIMEOUT" default:"15s"`
}

// UpdatesConfig configures the release update checker
type UpdatesConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"VVF_UPDATES_ENABLED" default:"true"`
	Schedule string `yaml:"schedule" json:"schedule" env:"VVF_UPDATES_SCHEDULE" default:"@every 6h"`
	APIBase  string `yaml:"api_base" json:"api_base" env:"VVF_UPDATES_API" default:"https://api.github.com"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds prometheus configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"VVF_METRICS_ENABLED" default:"true"`
	Path    string `yaml:"path" json:"path" env:"VVF_METRICS_PATH" default:"/metrics"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	cfg := DefaultConfig()
	applyDerivedConfig(cfg)
	return &ConfigManager{
		config:   cfg,
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Mode:         "release",
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			Host:     "localhost",
			Port:     5432,
			Username: "vvf",
			Database: "vvf",
		},
		Store: StoreConfig{
			Backend:  "database",
			RedisURL: "redis://localhost:6379/0",
			Prefix:   "vvf",
		},
		Extensions: ExtensionsConfig{
			PriorityNamespace: "priority",
			SettingsNamespace: "settings",
		},
		Plugins: PluginConfig{
			DataDir:          "./data",
			SideloadPatterns: []string{"*.vvf", "**/*.vvf"},
			EnableHotReload:  true,
			Debounce:         500 * time.Millisecond,
			StartTimeout:     30 * time.Second,
			ScriptTimeout:    10 * time.Second,
			HTTPTimeout:      30 * time.Second,
			HTTPRetries:      3,
		},
		Remote: RemoteConfig{
			Schedule: "@every 30m",
			Timeout:  15 * time.Second,
		},
		Updates: UpdatesConfig{
			Enabled:  true,
			Schedule: "@every 6h",
			APIBase:  "https://api.github.com",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		log.Printf("Configuration loaded from file: %s", configPath)
	}

	// Environment variables override the file
	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return saveToFile(cm.configPath, cm.config)
}

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// loadStructFromEnv only sets fields whose env variable is present. Defaults
// come from DefaultConfig so a value from the config file is never replaced by
// a default tag.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	switch config.Store.Backend {
	case "database", "redis", "memory":
	default:
		return fmt.Errorf("unsupported store backend: %s", config.Store.Backend)
	}

	if config.Plugins.WorkerCount < 0 {
		return fmt.Errorf("invalid worker count: %d", config.Plugins.WorkerCount)
	}

	if config.Extensions.PriorityNamespace == "" || config.Extensions.SettingsNamespace == "" {
		return fmt.Errorf("extension namespaces must not be empty")
	}

	if config.Extensions.PriorityNamespace == config.Extensions.SettingsNamespace {
		return fmt.Errorf("priority and settings namespaces must differ")
	}

	if config.Remote.Enabled {
		if config.Remote.IndexURL == "" {
			return fmt.Errorf("remote index enabled without index_url")
		}
		if _, err := cron.ParseStandard(config.Remote.Schedule); err != nil {
			return fmt.Errorf("invalid remote schedule %q: %w", config.Remote.Schedule, err)
		}
	}

	if config.Updates.Enabled {
		if _, err := cron.ParseStandard(config.Updates.Schedule); err != nil {
			return fmt.Errorf("invalid updates schedule %q: %w", config.Updates.Schedule, err)
		}
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	dataDir := config.Plugins.DataDir

	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(dataDir, "vvf.db")
	}
	if config.Plugins.PackagesDir == "" {
		config.Plugins.PackagesDir = filepath.Join(dataDir, "packages")
	}
	if config.Plugins.SideloadDir == "" {
		config.Plugins.SideloadDir = filepath.Join(dataDir, "extensions")
	}
	if config.Plugins.CacheDir == "" {
		config.Plugins.CacheDir = filepath.Join(dataDir, "cache")
	}

	if config.Plugins.WorkerCount == 0 {
		config.Plugins.WorkerCount = min(max(1, runtime.NumCPU()), 8)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}

// Save saves the current configuration
func Save() error {
	return GetConfigManager().SaveConfig()
}
