package main

import (
	"context"
	"testing"

	"github.com/codescribe/backend/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logger.LogLevel
	}{
		{"info", logger.Info},
		{"warn", logger.Warn},
		{"error", logger.Error},
		{"silent", logger.Silent},
		{"", logger.Silent},
		{"verbose", logger.Silent},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, gormLogLevel(tt.level))
		})
	}
}

func TestOpenDatabaseRejectsBadURL(t *testing.T) {
	_, _, err := openDatabase(context.Background(), services.DatabaseConfig{URL: "not a url ::"})
	require.Error(t, err)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CDN_PROVIDER", "S3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("CREDITS_RESET_WINDOW", "24h")

	cfg := services.LoadConfig()
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "s3", cfg.CDN.Provider)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 2, cfg.Credits.Ceiling)
	assert.Equal(t, "24h0m0s", cfg.Credits.ResetWindow.String())
	assert.False(t, cfg.IsProduction())
}
