package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings holds every runtime option of the API and the CLI.
type Settings struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerSettings `mapstructure:"server"`
	Database    DBSettings     `mapstructure:"database"`
	JWT         JWTSettings    `mapstructure:"jwt"`
	SMTP        SMTPSettings   `mapstructure:"smtp"`
	Log         LogSettings    `mapstructure:"log"`
	Review      ReviewSettings `mapstructure:"review"`
	Reminder    ReminderConfig `mapstructure:"reminder"`
	RateLimit   RateLimitConf  `mapstructure:"rate_limit"`
}

type ServerSettings struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

type DBSettings struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DebugSQL bool   `mapstructure:"debug_sql"`
	SeedFile string `mapstructure:"seed_file"`
}

type JWTSettings struct {
	Secret string `mapstructure:"secret"`
}

type SMTPSettings struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Pass          string `mapstructure:"pass"`
	From          string `mapstructure:"from"` // e.g. "Journal Office <no-reply@your.org>"
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ReviewSettings tunes the review workflow.
type ReviewSettings struct {
	MaxRounds    int `mapstructure:"max_rounds"`
	DeadlineDays int `mapstructure:"deadline_days"`
}

// ReminderConfig schedules the overdue-review reminder job. An empty
// schedule disables it.
type ReminderConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type RateLimitConf struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// IsProduction reports whether ENVIRONMENT is set to production.
func (s *Settings) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

var envBindings = map[string]string{
	"environment":           "ENVIRONMENT",
	"server.port":           "SERVER_PORT",
	"server.gin_mode":       "GIN_MODE",
	"database.driver":       "DB_DRIVER",
	"database.host":         "DB_HOST",
	"database.port":         "DB_PORT",
	"database.name":         "DB_DATABASE",
	"database.username":     "DB_USERNAME",
	"database.password":     "DB_PASSWORD",
	"database.debug_sql":    "DEBUG_SQL",
	"database.seed_file":    "MEMORY_SEED_FILE",
	"jwt.secret":            "JWT_SECRET",
	"smtp.host":             "SMTP_HOST",
	"smtp.port":             "SMTP_PORT",
	"smtp.user":             "SMTP_USER",
	"smtp.pass":             "SMTP_PASS",
	"smtp.from":             "SMTP_FROM",
	"smtp.skip_tls_verify":  "SMTP_SKIP_TLS_VERIFY",
	"log.level":             "LOG_LEVEL",
	"log.file":              "LOG_FILE",
	"review.max_rounds":     "REVIEW_MAX_ROUNDS",
	"review.deadline_days":  "REVIEW_DEADLINE_DAYS",
	"reminder.schedule":     "REMINDER_SCHEDULE",
	"rate_limit.per_minute": "RATE_LIMIT_PER_MINUTE",
	"rate_limit.burst":      "RATE_LIMIT_BURST",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.name", "")
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.debug_sql", false)
	v.SetDefault("database.seed_file", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.pass", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.skip_tls_verify", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/journal-review.log")
	v.SetDefault("review.max_rounds", 3)
	v.SetDefault("review.deadline_days", 14)
	v.SetDefault("reminder.schedule", "")
	v.SetDefault("rate_limit.per_minute", 120)
	v.SetDefault("rate_limit.burst", 30)
}

// Load reads settings from the environment. Call godotenv.Load first when a
// .env file should be honoured.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if settings.Review.MaxRounds < 1 {
		settings.Review.MaxRounds = 3
	}
	if settings.Review.DeadlineDays < 1 {
		settings.Review.DeadlineDays = 14
	}
	if settings.SMTP.Port == 0 {
		settings.SMTP.Port = 587
	}
	settings.Database.Driver = strings.ToLower(strings.TrimSpace(settings.Database.Driver))

	return &settings, nil
}
