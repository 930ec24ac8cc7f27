package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", settings.Server.Port)
	assert.Equal(t, "mysql", settings.Database.Driver)
	assert.Equal(t, "3306", settings.Database.Port)
	assert.Equal(t, 3, settings.Review.MaxRounds)
	assert.Equal(t, 14, settings.Review.DeadlineDays)
	assert.Equal(t, 587, settings.SMTP.Port)
	assert.Equal(t, 120, settings.RateLimit.PerMinute)
	assert.Equal(t, 30, settings.RateLimit.Burst)
	assert.Empty(t, settings.Reminder.Schedule)
	assert.False(t, settings.IsProduction())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("DB_DRIVER", " Memory ")
	t.Setenv("DEBUG_SQL", "true")
	t.Setenv("REVIEW_MAX_ROUNDS", "5")
	t.Setenv("REVIEW_DEADLINE_DAYS", "0")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("REMINDER_SCHEDULE", "0 0 8 * * *")

	settings, err := Load()
	require.NoError(t, err)

	assert.True(t, settings.IsProduction())
	assert.Equal(t, "memory", settings.Database.Driver)
	assert.True(t, settings.Database.DebugSQL)
	assert.Equal(t, 5, settings.Review.MaxRounds)
	assert.Equal(t, 14, settings.Review.DeadlineDays)
	assert.Equal(t, 465, settings.SMTP.Port)
	assert.Equal(t, "0 0 8 * * *", settings.Reminder.Schedule)
}

func TestDSN(t *testing.T) {
	dsn := DSN(DBSettings{Host: "db", Port: "3307", Name: "journal", Username: "app", Password: "secret"})
	assert.Equal(t, "app:secret@tcp(db:3307)/journal?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}

func TestMailerRequiresHostAndSender(t *testing.T) {
	assert.False(t, NewMailer(SMTPSettings{Host: "smtp.example.org"}).Configured())
	assert.True(t, NewMailer(SMTPSettings{Host: "smtp.example.org", From: "office@example.org"}).Configured())

	err := NewMailer(SMTPSettings{}).SendMail([]string{"r@example.org"}, "s", "<p>b</p>")
	assert.ErrorIs(t, err, ErrMailerNotConfigured)
}
