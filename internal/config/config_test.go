package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "005", cfg.VenueNo)
	assert.Equal(t, "017", cfg.FieldTypeNo)
	assert.Equal(t, 7, cfg.DateOffset)
	assert.Equal(t, 50, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, time.Second, cfg.AttemptPause())
	assert.Equal(t, vfmc.DefaultBaseURL, cfg.VfmcBaseURL)
	assert.Equal(t, "Asia/Shanghai", cfg.VenueTimezone)
	assert.False(t, cfg.IsProduction())
}

func TestLocation(t *testing.T) {
	loc, err := Config{VenueTimezone: "Asia/Shanghai"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())

	loc, err = Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	_, err = Config{VenueTimezone: "Not/AZone"}.Location()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ENV: production
VENUE_NO: "001"
FIELD_TYPE_NO: "001"
DATE_OFFSET: 1
PREFERRED_TIMES: "16:00,17:00"
VFMC_JWT_USER_TOKEN: tok
VFMC_USER_ID: u1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "001", cfg.VenueNo)
	assert.Equal(t, 1, cfg.DateOffset)
	assert.Equal(t, "16:00,17:00", cfg.PreferredTimes)

	creds := cfg.Credentials()
	assert.Equal(t, "tok", creds.JWTUserToken)
	assert.Equal(t, "u1", creds.UserID)
	assert.Equal(t, "0", creds.LoginSource)
	assert.Equal(t, "1", creds.LoginType)
	assert.NoError(t, creds.Validate())
}

func TestServerKeys(t *testing.T) {
	k32 := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg := Config{
		DatabaseURL:     "postgres://localhost/vfmc",
		SessionHashKey:  k32,
		SessionBlockKey: k32,
		CredEncKey:      k32,
	}
	h, b, c, err := cfg.ServerKeys()
	require.NoError(t, err)
	assert.Len(t, h, 32)
	assert.Len(t, b, 32)
	assert.Len(t, c, 32)
}

func TestServerKeysErrors(t *testing.T) {
	k32 := base64.StdEncoding.EncodeToString(make([]byte, 32))

	_, _, _, err := Config{}.ServerKeys()
	assert.ErrorContains(t, err, "DATABASE_URL")

	cfg := Config{DatabaseURL: "x", SessionHashKey: k32, SessionBlockKey: k32}
	_, _, _, err = cfg.ServerKeys()
	assert.ErrorContains(t, err, "CRED_ENC_KEY")

	cfg.CredEncKey = base64.StdEncoding.EncodeToString(make([]byte, 16))
	_, _, _, err = cfg.ServerKeys()
	assert.ErrorContains(t, err, "32 bytes")
}

func TestDecodeB64RawFallback(t *testing.T) {
	raw := base64.RawStdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	b, err := decodeB64("KEY", raw)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	_, err = decodeB64("KEY", "!!!")
	assert.Error(t, err)
}
