package env

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanylaplus/go-launcher/logger"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "Log level")
	cmd.Flags().String("log-format", "", "Log format")
	cmd.Flags().String("otlp-url", "", "OTLP url")
	cmd.Flags().String("otlp-token", "", "OTLP token")
	cmd.Flags().Bool("no-telemetry", false, "Disable telemetry")
	return cmd
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("test-flag", "", "Test flag")

	require.NoError(t, cmd.Flags().Set("test-flag", "flag-value"))
	t.Setenv("TEST_ENV", "env-value")
	assert.Equal(t, "flag-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	require.NoError(t, cmd.Flags().Set("test-flag", ""))
	assert.Equal(t, "env-value", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))

	t.Setenv("TEST_ENV", "")
	assert.Equal(t, "default", FlagOrEnv(cmd, "test-flag", "TEST_ENV", "default"))
}

func TestFlagOrEnvMissingFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	assert.Equal(t, "default", FlagOrEnv(cmd, "absent", "VANYLA_TEST_UNSET", "default"))
}

func TestLogLevel(t *testing.T) {
	testCases := []struct {
		name      string
		flagValue string
		envValue  string
		def       string
		expected  logger.LogLevel
	}{
		{"debug level via flag", "debug", "", "", logger.LevelDebug},
		{"debug level via env", "", "DEBUG", "", logger.LevelDebug},
		{"flag wins over env", "error", "trace", "", logger.LevelError},
		{"warning alias via env", "", "warning", "", logger.LevelWarn},
		{"configured default", "", "", "trace", logger.LevelTrace},
		{"unknown falls back to info", "loud", "", "", logger.LevelInfo},
		{"default level", "", "", "", logger.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newCommand()
			t.Setenv(logger.LevelEnv, tc.envValue)
			if tc.flagValue != "" {
				require.NoError(t, cmd.Flags().Set("log-level", tc.flagValue))
			}
			assert.Equal(t, tc.expected, LogLevel(cmd, tc.def))
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	t.Setenv(LogFormatEnv, "")

	cmd := newCommand()
	_, isSink := NewLogger(cmd, Logging{Format: "json"}).(logger.SinkLogger)
	assert.True(t, isSink)

	require.NoError(t, cmd.Flags().Set("log-format", "console"))
	assert.NotNil(t, NewLogger(cmd, Logging{Format: "json"}))
}

func TestNewTelemetryDisabled(t *testing.T) {
	t.Setenv(OTLPURLEnv, "")

	cmd := newCommand()
	log, shutdown, err := NewTelemetry(context.Background(), cmd, "launcher", Logging{})
	require.NoError(t, err)
	assert.NotNil(t, log)
	shutdown()

	require.NoError(t, cmd.Flags().Set("no-telemetry", "true"))
	log, shutdown, err = NewTelemetry(context.Background(), cmd, "launcher", Logging{OTLPURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.NotNil(t, log)
	shutdown()
}

func TestNewTelemetryEnabled(t *testing.T) {
	hits := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hits <- r.Header.Get("Authorization"):
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cmd := newCommand()
	require.NoError(t, cmd.Flags().Set("otlp-token", "tok"))
	log, shutdown, err := NewTelemetry(context.Background(), cmd, "launcher", Logging{OTLPURL: server.URL})
	require.NoError(t, err)
	log.Info("hello")
	shutdown()

	select {
	case auth := <-hits:
		assert.Equal(t, "Bearer tok", auth)
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received an export")
	}
}
