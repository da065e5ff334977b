package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sah-anshu/wa2fa-meta/core"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values come from an optional
// yaml file, overridden by WA2FA_* environment variables, falling back to
// defaults. By the time the verification service sees them they are plain
// resolved values.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Realm string `yaml:"realm"`

	WhatsApp struct {
		AccessToken   string `yaml:"access_token"`
		PhoneNumberID string `yaml:"phone_number_id"`
		APIVersion    string `yaml:"api_version"`
		BusinessPhone string `yaml:"business_phone"`
	} `yaml:"whatsapp"`

	Webhook struct {
		VerifyToken string `yaml:"verify_token"`
		AppSecret   string `yaml:"app_secret"`
	} `yaml:"webhook"`

	OTP struct {
		Enabled       bool   `yaml:"enabled"`
		Length        int    `yaml:"length"`
		ExpirySeconds int    `yaml:"expiry_seconds"`
		MaxAttempts   int    `yaml:"max_attempts"`
		Template      string `yaml:"template"`
	} `yaml:"otp"`

	QR struct {
		Enabled     bool   `yaml:"enabled"`
		TTLSeconds  int    `yaml:"ttl_seconds"`
		AckVerified string `yaml:"ack_verified"`
		AckMismatch string `yaml:"ack_mismatch"`
		AckExpired  string `yaml:"ack_expired"`
		AckNoMatch  string `yaml:"ack_no_match"`
	} `yaml:"qr"`

	SMSFallback struct {
		URL    string `yaml:"url"`
		Method string `yaml:"method"`
	} `yaml:"sms_fallback"`

	Confirm struct {
		Secret     string `yaml:"secret"`
		TTLSeconds int    `yaml:"ttl_seconds"`
		BaseURL    string `yaml:"base_url"`
	} `yaml:"confirm"`

	DefaultLanguage    string `yaml:"default_language"`
	DefaultCountryCode string `yaml:"default_country_code"`
}

// Load reads the config file named by WA2FA_CONFIG (default
// config/config.yaml; a missing file is fine), applies environment overrides
// and defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	path := envString("WA2FA_CONFIG", "config/config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if !cfg.OTP.Enabled && !cfg.QR.Enabled {
		return nil, core.ErrNoMethodEnabled
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Realm, "WA2FA_REALM")
	overrideString(&c.WhatsApp.AccessToken, "WA2FA_ACCESS_TOKEN")
	overrideString(&c.WhatsApp.PhoneNumberID, "WA2FA_PHONE_NUMBER_ID")
	overrideString(&c.WhatsApp.APIVersion, "WA2FA_API_VERSION")
	overrideString(&c.WhatsApp.BusinessPhone, "WA2FA_BUSINESS_PHONE")
	overrideString(&c.Webhook.VerifyToken, "WA2FA_WEBHOOK_VERIFY_TOKEN")
	overrideString(&c.Webhook.AppSecret, "WA2FA_APP_SECRET")
	overrideString(&c.OTP.Template, "WA2FA_TEMPLATE_OTP")
	overrideString(&c.SMSFallback.URL, "WA2FA_SMS_FALLBACK_URL")
	overrideString(&c.SMSFallback.Method, "WA2FA_SMS_FALLBACK_METHOD")
	overrideString(&c.Confirm.Secret, "WA2FA_CONFIRM_SECRET")
	overrideString(&c.Confirm.BaseURL, "WA2FA_CONFIRM_BASE_URL")
	overrideString(&c.DefaultLanguage, "WA2FA_DEFAULT_LANGUAGE")
	overrideString(&c.DefaultCountryCode, "WA2FA_DEFAULT_COUNTRY_CODE")
	overrideString(&c.Redis.URL, "REDIS_URL")

	overrideInt(&c.Server.Port, "WA2FA_PORT")
	overrideInt(&c.OTP.Length, "WA2FA_OTP_LENGTH")
	overrideInt(&c.OTP.ExpirySeconds, "WA2FA_OTP_EXPIRY")
	overrideInt(&c.OTP.MaxAttempts, "WA2FA_OTP_MAX_ATTEMPTS")
	overrideInt(&c.QR.TTLSeconds, "WA2FA_QR_TTL")

	overrideBool(&c.OTP.Enabled, "WA2FA_OTP_ENABLED")
	overrideBool(&c.QR.Enabled, "WA2FA_QR_ENABLED")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 9000
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v22.0"
	}
	if c.OTP.Length == 0 {
		c.OTP.Length = 6
	}
	if c.OTP.ExpirySeconds == 0 {
		c.OTP.ExpirySeconds = 300
	}
	if c.OTP.MaxAttempts == 0 {
		c.OTP.MaxAttempts = 5
	}
	if c.OTP.Template == "" {
		c.OTP.Template = "wa2fa_otp"
	}
	if c.QR.TTLSeconds == 0 {
		c.QR.TTLSeconds = 300
	}
	if c.QR.AckVerified == "" {
		c.QR.AckVerified = "✅ Verification successful. You can return to your browser."
	}
	if c.QR.AckMismatch == "" {
		c.QR.AckMismatch = "⚠️ This code belongs to a number ending in {{last4}}. Please send it from that phone."
	}
	if c.QR.AckExpired == "" {
		c.QR.AckExpired = "⏱ This verification code has expired. Please request a new QR code."
	}
	if c.QR.AckNoMatch == "" {
		c.QR.AckNoMatch = "This code is not recognized. Please scan the QR code again."
	}
	if c.SMSFallback.Method == "" {
		c.SMSFallback.Method = "GET"
	}
	if c.Confirm.TTLSeconds == 0 {
		c.Confirm.TTLSeconds = 900
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
}

// OTPExpiry returns the OTP validity window as a duration.
func (c *Config) OTPExpiry() time.Duration {
	return time.Duration(c.OTP.ExpirySeconds) * time.Second
}

// QRTTL returns the QR challenge validity window as a duration.
func (c *Config) QRTTL() time.Duration {
	return time.Duration(c.QR.TTLSeconds) * time.Second
}

// ConfirmTTL returns the confirmation link validity window as a duration.
func (c *Config) ConfirmTTL() time.Duration {
	return time.Duration(c.Confirm.TTLSeconds) * time.Second
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func overrideString(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func overrideInt(target *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*target = n
		}
	}
}

func overrideBool(target *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*target = b
		}
	}
}
