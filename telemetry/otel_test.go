package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanylaplus/go-launcher/logger"
)

type exportRequest struct {
	path string
	auth string
}

func collector(t *testing.T) (*httptest.Server, chan exportRequest) {
	t.Helper()
	requests := make(chan exportRequest, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case requests <- exportRequest{path: r.URL.Path, auth: r.Header.Get("Authorization")}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func TestNewExportsOnShutdown(t *testing.T) {
	server, requests := collector(t)

	console := logger.NewTestLogger()
	log, shutdown, err := New(context.Background(), server.URL, "secret", "launcher-test", console)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	log.Info("balance for %s is %d", "player-1", 42)
	shutdown()

	select {
	case req := <-requests:
		assert.Equal(t, "/v1/logs", req.path)
		assert.Equal(t, "Bearer secret", req.auth)
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received an export")
	}
	assert.Equal(t, 1, console.Count("INFO", "balance for player-1 is 42"))
}

func TestNewWithoutToken(t *testing.T) {
	server, requests := collector(t)

	log, shutdown, err := New(context.Background(), server.URL, "", "launcher-test", nil)
	require.NoError(t, err)
	log.Warn("no console attached")
	shutdown()

	select {
	case req := <-requests:
		assert.Empty(t, req.auth)
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received an export")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	_, _, err := New(context.Background(), "://nope", "", "launcher-test", nil)
	assert.Error(t, err)

	_, _, err = New(context.Background(), "ftp://collector", "", "launcher-test", nil)
	assert.ErrorContains(t, err, "http or https")
}
