package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.MessageTTL)
	assert.Equal(t, 48*time.Hour, cfg.EditWindow)
	assert.Equal(t, 24*time.Hour, cfg.PersistentRoomTTL)
	assert.Equal(t, 10, cfg.DefaultMaxUsers)
	assert.Equal(t, 100, cfg.MaxUsersLimit)
	assert.Equal(t, 6, cfg.RoomCodeLength)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.False(t, cfg.DebugRoutes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MESSAGE_TTL", "90s")
	t.Setenv("DEFAULT_MAX_USERS", "25")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("DB_DSN", "postgres://chat@localhost/chat?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.MessageTTL)
	assert.Equal(t, 25, cfg.DefaultMaxUsers)
	assert.True(t, cfg.DebugRoutes)
	assert.NotEmpty(t, cfg.DatabaseDSN)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"DEFAULT_MAX_USERS":     "500",
		"ROOM_CODE_LENGTH":      "3",
		"EXPIRY_SWEEP_INTERVAL": "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}
