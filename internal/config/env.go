package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gatehouse-security/gatehouse-go/internal/log"
)

// LoadFromEnv applies environment overrides. Unset variables leave the current
// values untouched; malformed values are logged and skipped.
func LoadFromEnv() {
	if v := os.Getenv("GATEHOUSE_DISABLE_RATELIMIT"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			log.Warn("invalid GATEHOUSE_DISABLE_RATELIMIT", slog.String("value", v))
		} else {
			SetRateLimitDisabled(disabled)
		}
	}

	if v := os.Getenv("GATEHOUSE_BASE_DOMAIN"); v != "" {
		SetBaseDomain(v)
	}

	if v := os.Getenv("GATEHOUSE_SIGNATURE_WINDOW_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			SetSignatureWindow(time.Duration(seconds) * time.Second)
		} else {
			log.Warn("invalid GATEHOUSE_SIGNATURE_WINDOW_SECONDS", slog.String("value", v))
		}
	}

	if v := os.Getenv("GATEHOUSE_WEBHOOK_MAX_AGE_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			SetWebhookMaxAge(time.Duration(seconds) * time.Second)
		} else {
			log.Warn("invalid GATEHOUSE_WEBHOOK_MAX_AGE_SECONDS", slog.String("value", v))
		}
	}

	if v := os.Getenv("GATEHOUSE_LOG_LEVEL"); v != "" {
		if err := log.SetLogLevel(v); err != nil {
			log.Warn("invalid GATEHOUSE_LOG_LEVEL", slog.String("value", v))
		}
	}
}
