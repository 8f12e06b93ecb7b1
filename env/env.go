// Package env resolves command line settings from flags, VANYLA_* variables
// and configured defaults, and builds the process logger from them.
package env

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vanylaplus/go-launcher/logger"
	"github.com/vanylaplus/go-launcher/telemetry"
)

const (
	LogFormatEnv = "VANYLA_LOG_FORMAT"
	OTLPURLEnv   = "VANYLA_OTLP_URL"
	OTLPTokenEnv = "VANYLA_OTLP_TOKEN"
)

// Logging holds the defaults used when neither a flag nor the environment
// provides a value.
type Logging struct {
	Level     string
	Format    string
	OTLPURL   string
	OTLPToken string
}

// FlagOrEnv returns the flag value when it was set, then the environment
// value, then defaultValue.
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves --log-level, then VANYLA_LOG_LEVEL, then def.
func LogLevel(cmd *cobra.Command, def string) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, def), logger.LevelInfo)
}

// NewLogger returns a console or JSON logger depending on --log-format.
func NewLogger(cmd *cobra.Command, def Logging) logger.Logger {
	log.SetFlags(0)
	level := LogLevel(cmd, def.Level)
	switch strings.ToLower(FlagOrEnv(cmd, "log-format", LogFormatEnv, def.Format)) {
	case "json":
		return logger.NewJSONLogger(level)
	default:
		return logger.NewConsoleLogger(level)
	}
}

// NewTelemetry returns the process logger and a shutdown function. When
// --no-telemetry is set or no OTLP url is known it is the plain logger from
// NewLogger. The cobra flags it reads are:
//
// --no-telemetry (boolean): disables export
//
// --otlp-url (string): the collector base url
//
// --otlp-token (string): bearer token sent to the collector
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string, def Logging) (logger.Logger, telemetry.ShutdownFunc, error) {
	console := NewLogger(cmd, def)
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return console, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", OTLPURLEnv, def.OTLPURL)
	if otlpURL == "" {
		return console, func() {}, nil
	}
	token := FlagOrEnv(cmd, "otlp-token", OTLPTokenEnv, def.OTLPToken)
	return telemetry.New(ctx, otlpURL, token, serviceName, console)
}
