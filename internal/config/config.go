package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
)

// Config holds everything both modes (one-shot book and server) read.
// Values come from config.yaml when present, overridden by environment
// variables of the same name.
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// server mode
	ListenAddr       string `mapstructure:"LISTEN_ADDR"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	SessionHashKey   string `mapstructure:"SESSION_HASH_KEY"`
	SessionBlockKey  string `mapstructure:"SESSION_BLOCK_KEY"`
	CredEncKey       string `mapstructure:"CRED_ENC_KEY"`
	SchedPollSeconds int    `mapstructure:"SCHED_POLL_SECONDS"`

	// vendor API
	VfmcBaseURL   string  `mapstructure:"VFMC_BASE_URL"`
	RateLimitRPS  float64 `mapstructure:"RATE_LIMIT_RPS"`
	VenueTimezone string  `mapstructure:"VENUE_TIMEZONE"` // release time math

	// vendor session cookies for one-shot mode
	WXOpenID     string `mapstructure:"VFMC_WX_OPEN_ID"`
	LoginSource  string `mapstructure:"VFMC_LOGIN_SOURCE"`
	JWTUserToken string `mapstructure:"VFMC_JWT_USER_TOKEN"`
	UserID       string `mapstructure:"VFMC_USER_ID"`
	LoginType    string `mapstructure:"VFMC_LOGIN_TYPE"`

	// one-shot booking defaults
	VenueNo             string `mapstructure:"VENUE_NO"`
	FieldTypeNo         string `mapstructure:"FIELD_TYPE_NO"`
	DateOffset          int    `mapstructure:"DATE_OFFSET"`
	TimePeriods         string `mapstructure:"TIME_PERIODS"`
	PreferredTimes      string `mapstructure:"PREFERRED_TIMES"`
	MaxAttempts         int    `mapstructure:"MAX_ATTEMPTS"`
	AttemptPauseSeconds int    `mapstructure:"ATTEMPT_PAUSE_SECONDS"`
	ReleaseTime         string `mapstructure:"RELEASE_TIME"` // HH:MM local, optional
}

// Load reads config.yaml (working dir or ./config), then environment
// overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()

	// every key needs a default so AutomaticEnv-only values survive
	// Unmarshal
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_HASH_KEY", "")
	v.SetDefault("SESSION_BLOCK_KEY", "")
	v.SetDefault("CRED_ENC_KEY", "")
	v.SetDefault("SCHED_POLL_SECONDS", 2)
	v.SetDefault("VFMC_WX_OPEN_ID", "")
	v.SetDefault("VFMC_JWT_USER_TOKEN", "")
	v.SetDefault("VFMC_USER_ID", "")
	v.SetDefault("PREFERRED_TIMES", "")
	v.SetDefault("RELEASE_TIME", "")
	v.SetDefault("VFMC_BASE_URL", vfmc.DefaultBaseURL)
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("VENUE_TIMEZONE", "Asia/Shanghai")
	v.SetDefault("VFMC_LOGIN_SOURCE", "0")
	v.SetDefault("VFMC_LOGIN_TYPE", "1")
	v.SetDefault("VENUE_NO", "005")
	v.SetDefault("FIELD_TYPE_NO", "017")
	v.SetDefault("DATE_OFFSET", 7)
	v.SetDefault("TIME_PERIODS", "afternoon")
	v.SetDefault("MAX_ATTEMPTS", 50)
	v.SetDefault("ATTEMPT_PAUSE_SECONDS", 1)

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; env-only setups are fine
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c Config) PollInterval() time.Duration {
	if c.SchedPollSeconds < 1 {
		return 2 * time.Second
	}
	return time.Duration(c.SchedPollSeconds) * time.Second
}

func (c Config) AttemptPause() time.Duration {
	if c.AttemptPauseSeconds < 0 {
		return time.Second
	}
	return time.Duration(c.AttemptPauseSeconds) * time.Second
}

// Location resolves the venue timezone. Release times are wall-clock in
// the venue's zone, never the server's.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.VenueTimezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("VENUE_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c Config) Credentials() vfmc.Credentials {
	return vfmc.Credentials{
		WXOpenID:     c.WXOpenID,
		LoginSource:  c.LoginSource,
		JWTUserToken: c.JWTUserToken,
		UserID:       c.UserID,
		LoginType:    c.LoginType,
	}
}

// ServerKeys decodes the base64 session and credential-encryption keys.
// Server mode refuses to start without them.
func (c Config) ServerKeys() (hashKey, blockKey, credKey []byte, err error) {
	if c.DatabaseURL == "" {
		return nil, nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	if hashKey, err = decodeB64("SESSION_HASH_KEY", c.SessionHashKey); err != nil {
		return nil, nil, nil, err
	}
	if blockKey, err = decodeB64("SESSION_BLOCK_KEY", c.SessionBlockKey); err != nil {
		return nil, nil, nil, err
	}
	if credKey, err = decodeB64("CRED_ENC_KEY", c.CredEncKey); err != nil {
		return nil, nil, nil, err
	}
	if len(credKey) != 32 {
		return nil, nil, nil, fmt.Errorf("CRED_ENC_KEY must decode to 32 bytes (got %d)", len(credKey))
	}
	return hashKey, blockKey, credKey, nil
}

func decodeB64(name, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%s is required (base64)", name)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
