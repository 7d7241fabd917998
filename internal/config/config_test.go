package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.PlayAgainTTL)
	assert.Equal(t, 24*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, 3, cfg.ForfeitThreshold)
	assert.Equal(t, []int64{5000, 10000, 50000, 100000, 1000000, 10000000}, cfg.BetTiers)
	assert.Equal(t, 6, cfg.RoomCodeLength)
	assert.False(t, cfg.AutoProvisionUsers)
	assert.False(t, cfg.GoogleEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":                  "9000",
		"TURN_TIMEOUT":          "45",
		"RECONNECT_GRACE":       "1m",
		"MATCHMAKING_BET_TIERS": " 100, 50 ,10",
		"AUTO_PROVISION_USERS":  "true",
		"STARTING_COINS":        "250",
		"GOOGLE_CLIENT_ID":      "id",
		"GOOGLE_CLIENT_SECRET":  "secret",
		"GOOGLE_REDIRECT_URL":   "http://localhost:8080/auth/google/callback",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.TurnTimeout)
	assert.Equal(t, time.Minute, cfg.ReconnectGrace)
	assert.Equal(t, []int64{10, 50, 100}, cfg.BetTiers)
	assert.True(t, cfg.AutoProvisionUsers)
	assert.Equal(t, int64(250), cfg.StartingCoins)
	assert.True(t, cfg.GoogleEnabled())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"bad duration", map[string]string{"TURN_TIMEOUT": "soon"}},
		{"bad int", map[string]string{"REDIS_DB": "one"}},
		{"bad bool", map[string]string{"AUTO_PROVISION_USERS": "perhaps"}},
		{"zero ping", map[string]string{"PING_INTERVAL": "0"}},
		{"short code", map[string]string{"ROOM_CODE_LENGTH": "2"}},
		{"bad tiers", map[string]string{"MATCHMAKING_BET_TIERS": "10,-5"}},
		{"production without secret", map[string]string{"ENV": "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.vars))
			assert.Error(t, err)
		})
	}
}

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers("5000,1000")
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 5000}, tiers)

	_, err = ParseTiers("5,5")
	assert.Error(t, err)
	_, err = ParseTiers(" , ")
	assert.Error(t, err)
	_, err = ParseTiers("abc")
	assert.Error(t, err)
}
