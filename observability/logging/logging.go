// Package logging configures the fleet controller's structured logger,
// grounded on the teacher's observability/logging.Setup shape (JSON handler,
// severity/timestamp/message key renames, a log.Logger bridge so adapted
// loop code that still calls log.Printf keeps working) but taking
// config.TelemetryConfig directly and wiring the package's own redaction
// helpers (see redact.go) into ReplaceAttr so any attribute whose key looks
// secret-shaped is masked before it reaches stdout, rather than leaving
// MaskField/MaskValue as dead helpers callers never reach.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"

	"fleetctl/config"
)

// sensitiveKeyHints names the substrings (case-insensitive) that mark a log
// attribute's value as secret-shaped: keystore passphrases, signer private
// keys, bundler/quote-endpoint bearer tokens, and CLI-supplied seeds — the
// same class of value the teacher's cmd/nhb and cmd/p2pd mask explicitly at
// their seed-input log sites.
var sensitiveKeyHints = []string{"passphrase", "privatekey", "private_key", "apikey", "api_key", "secret", "seed", "token", "bearer"}

func looksSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range sensitiveKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(cfg config.TelemetryConfig) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			if attr.Value.Kind() == slog.KindString && looksSensitive(attr.Key) && !IsAllowlisted(attr.Key) {
				return slog.String(attr.Key, MaskValue(attr.Value.String()))
			}
			return attr
		},
	})

	service := strings.TrimSpace(cfg.ServiceName)
	attrs := []slog.Attr{
		slog.String("service", service),
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
