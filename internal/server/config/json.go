package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/paywall/internal/flagx"
	"github.com/dmitrijs2005/paywall/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON config file.
// Durations accept "15m" style strings or integer nanoseconds.
// Absent keys leave the corresponding Config field untouched.
type JsonConfig struct {
	Addr                *string         `json:"addr"`
	DatabaseDSN         *string         `json:"database_dsn"`
	BaseURL             *string         `json:"base_url"`
	AllowedOrigins      []string        `json:"allowed_origins"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	LogFormat           *string         `json:"log_format"`
	LogLevel            *string         `json:"log_level"`
	SessionSecret       *string         `json:"session_secret"`
	SessionTTL          *timex.Duration `json:"session_ttl"`
	CookieSecure        *bool           `json:"cookie_secure"`
	CodeTTL             *timex.Duration `json:"code_ttl"`
	TokenSweepInterval  *timex.Duration `json:"token_sweep_interval"`
	VerifyAttemptLimit  *int            `json:"verify_attempt_limit"`
	VerifyAttemptWindow *timex.Duration `json:"verify_attempt_window"`
	SMTPHost            *string         `json:"smtp_host"`
	SMTPPort            *int            `json:"smtp_port"`
	EmailFrom           *string         `json:"email_from"`
	RedisAddr           *string         `json:"redis_addr"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3Region            *string         `json:"s3_region"`
	S3BaseEndpoint      *string         `json:"s3_base_endpoint"`
	OTLPEndpoint        *string         `json:"otlp_endpoint"`
}

// parseJson loads the file named by -c/-config into config.
// A missing flag means nothing to load. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.Addr, c.Addr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.BaseURL, c.BaseURL)
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
	setDuration(&config.RequestTimeout, c.RequestTimeout)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SessionSecret, c.SessionSecret)
	setDuration(&config.SessionTTL, c.SessionTTL)
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
	setDuration(&config.CodeTTL, c.CodeTTL)
	setDuration(&config.TokenSweepInterval, c.TokenSweepInterval)
	setInt(&config.VerifyAttemptLimit, c.VerifyAttemptLimit)
	setDuration(&config.VerifyAttemptWindow, c.VerifyAttemptWindow)
	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.EmailFrom, c.EmailFrom)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
