package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the forecast core. Defaults live
// beside the record in Default(); environment variables override the file.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Forecast ForecastConfig `yaml:"forecast"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// RedisConfig holds the optional drift warm-store settings.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// ForecastConfig holds engine and run settings.
type ForecastConfig struct {
	ShadowMode      bool    `yaml:"shadow_mode"`
	HorizonDays     int     `yaml:"horizon_days"`
	HistoryDays     int     `yaml:"history_days"`
	ModelVersion    string  `yaml:"model_version"`
	DailyRunAt      string  `yaml:"daily_run_at"` // "HH:MM", local time
	DefaultLeadTime int     `yaml:"default_lead_time_days"`
	DefaultSafety   float64 `yaml:"default_safety_pct"`
}

// FeedbackConfig holds stream poller and governor settings.
type FeedbackConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
	DriftThreshold    float64       `yaml:"drift_threshold"` // fractional; compared as pct*100
	DriftWindowSize   int           `yaml:"drift_window_size"`
	DriftMinSamples   int           `yaml:"drift_min_samples"`
	DriftCooldown     time.Duration `yaml:"drift_cooldown"`
	IncrementalEnable bool          `yaml:"incremental_retrain_enabled"`
	RetrainCooldown   time.Duration `yaml:"retrain_cooldown"`
}

// HealthConfig holds auditor settings.
type HealthConfig struct {
	Schedule          string        `yaml:"schedule"` // cron expression
	AutoRetrain       bool          `yaml:"enable_auto_retrain"`
	RetrainCooldown   time.Duration `yaml:"retrain_cooldown"`
	AlertCritical     int           `yaml:"alert_threshold_critical"`
	AlertWarning      int           `yaml:"alert_threshold_warning"`
	ScoreDropWarning  int           `yaml:"score_drop_warning"`
	StockoutRiskLimit int           `yaml:"stockout_risk_limit"`
	AuditTimeout      time.Duration `yaml:"audit_timeout"`
	HistorySize       int           `yaml:"history_size"`
}

// LogConfig holds zerolog output settings.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration with all documented defaults set.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "stockcast",
			User:            "stockcast",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Forecast: ForecastConfig{
			ShadowMode:      true,
			HorizonDays:     7,
			HistoryDays:     30,
			ModelVersion:    "holt-v1",
			DailyRunAt:      "05:00",
			DefaultLeadTime: 3,
			DefaultSafety:   0.20,
		},
		Feedback: FeedbackConfig{
			PollInterval:      5 * time.Second,
			BatchSize:         100,
			DriftThreshold:    0.15,
			DriftWindowSize:   20,
			DriftMinSamples:   10,
			DriftCooldown:     time.Hour,
			IncrementalEnable: true,
			RetrainCooldown:   time.Hour,
		},
		Health: HealthConfig{
			Schedule:          "0 */6 * * *",
			AutoRetrain:       false,
			RetrainCooldown:   24 * time.Hour,
			AlertCritical:     60,
			AlertWarning:      75,
			ScoreDropWarning:  15,
			StockoutRiskLimit: 10,
			AuditTimeout:      10 * time.Minute,
			HistorySize:       100,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads the YAML config at path (if it exists), then applies
// environment overrides. A missing file is not an error; env-only
// deployments are supported.
func Load(path string) (Config, error) {
	// .env is optional; ignore absence.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would violate core invariants.
func (c Config) Validate() error {
	if c.Feedback.DriftThreshold < 0 || c.Feedback.DriftThreshold > 1 {
		return fmt.Errorf("feedback.drift_threshold must be in [0,1], got %.3f", c.Feedback.DriftThreshold)
	}
	if c.Feedback.BatchSize <= 0 {
		return fmt.Errorf("feedback.batch_size must be positive, got %d", c.Feedback.BatchSize)
	}
	if c.Forecast.HorizonDays <= 0 {
		return fmt.Errorf("forecast.horizon_days must be positive, got %d", c.Forecast.HorizonDays)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}

	if v := os.Getenv("FEEDBACK_POLL_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Feedback.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("FEEDBACK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Feedback.BatchSize = n
		}
	}
	if v := os.Getenv("FEEDBACK_DRIFT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Feedback.DriftThreshold = f
		}
	}
	if v := os.Getenv("INCREMENTAL_RETRAIN_ENABLED"); v != "" {
		cfg.Feedback.IncrementalEnable = parseBool(v)
	}
	if v := os.Getenv("FORECAST_SHADOW_MODE"); v != "" {
		cfg.Forecast.ShadowMode = parseBool(v)
	}
	if v := os.Getenv("HEALTH_CHECK_SCHEDULE"); v != "" {
		cfg.Health.Schedule = v
	}
	if v := os.Getenv("ENABLE_AUTO_RETRAIN"); v != "" {
		cfg.Health.AutoRetrain = parseBool(v)
	}
	if v := os.Getenv("RETRAIN_COOLDOWN_HOURS"); v != "" {
		if h, err := strconv.Atoi(v); err == nil {
			cfg.Health.RetrainCooldown = time.Duration(h) * time.Hour
		}
	}
	if v := os.Getenv("ALERT_THRESHOLD_CRITICAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.AlertCritical = n
		}
	}
	if v := os.Getenv("ALERT_THRESHOLD_WARNING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.AlertWarning = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
