package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanylaplus/go-launcher/tui"
)

const (
	player      = "0f8fad5b-d9cb-469f-a165-70867728950e"
	otherPlayer = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

func TestMain(m *testing.M) {
	tui.HasTTY = false
	for _, name := range []string{"VANYLA_API_URL", "VANYLA_STORE", "VANYLA_OTLP_URL", "VANYLA_LOCALE", "VANYLA_LOG_LEVEL"} {
		os.Unsetenv(name)
	}
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, apiURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`api_url: %q
store: sqlite
sqlite_path: %q
locale: en
log_level: none
polling_interval: 50ms
retry_delay: 10ms
max_retries: 1
`, apiURL, filepath.Join(dir, "state.db"))
	fn := filepath.Join(dir, "launcher.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(cfg), 0o600))
	return fn
}

type result struct {
	stdout string
	stderr string
	err    error
}

func run(cfgPath string, args ...string) result {
	var stdout, stderr bytes.Buffer
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--no-telemetry"}, args...))
	err := cmd.ExecuteContext(context.Background())
	a.Close()
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

type balanceServer struct {
	*httptest.Server
	balance atomic.Int64
	down    atomic.Bool
	hits    atomic.Int32
}

func newBalanceServer(t *testing.T, balance int64) *balanceServer {
	s := &balanceServer{}
	s.balance.Store(balance)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Path != "/player/"+player+"/balance" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"balance": %d}`, s.balance.Load())
	}))
	t.Cleanup(s.Close)
	return s
}

func TestPlayerID(t *testing.T) {
	id, err := playerID("0F8FAD5BD9CB469FA16570867728950E")
	require.NoError(t, err)
	assert.Equal(t, player, id)

	_, err = playerID("steve")
	assert.ErrorContains(t, err, "expected a UUID")
}

func TestTokens(t *testing.T) {
	cfg := writeConfig(t, "")

	r := run(cfg, "tokens", "set", player, "1500")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "now has 1,500 tokens")

	r = run(cfg, "tokens", "add", player, "250")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "now has 1,750 tokens")

	r = run(cfg, "tokens", "get", strings.ToUpper(player))
	require.NoError(t, r.err)
	assert.Equal(t, player+"\t1,750\n", r.stdout)

	r = run(cfg, "tokens", "remove", player, "5000")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "now has 0 tokens")

	require.NoError(t, run(cfg, "tokens", "set", otherPlayer, "42").err)
	r = run(cfg, "tokens", "list")
	require.NoError(t, r.err)
	assert.Equal(t, "PLAYER\tTOKENS\n"+player+"\t0\n"+otherPlayer+"\t42\n", r.stdout)

	r = run(cfg, "tokens", "reset", otherPlayer)
	require.NoError(t, r.err)
	r = run(cfg, "tokens", "get", otherPlayer)
	assert.Equal(t, otherPlayer+"\t0\n", r.stdout)

	r = run(cfg, "tokens", "clear", "--yes")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "removed 2 balances")

	r = run(cfg, "tokens", "list")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "ledger is empty")
}

func TestTokensRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t, "")

	r := run(cfg, "tokens", "set", "steve", "10")
	assert.ErrorContains(t, r.err, "invalid player id")

	r = run(cfg, "tokens", "add", player, "ten")
	assert.ErrorContains(t, r.err, "invalid amount")
}

func TestClearAsksForConfirmation(t *testing.T) {
	cfg := writeConfig(t, "")
	require.NoError(t, run(cfg, "tokens", "set", player, "10").err)

	orig := askFunc
	t.Cleanup(func() { askFunc = orig })
	var asked string
	askFunc = func(title string, def bool) (bool, error) {
		asked = title
		return false, nil
	}

	r := run(cfg, "tokens", "clear")
	require.NoError(t, r.err)
	assert.Equal(t, "Delete every token balance?", asked)
	assert.Contains(t, r.stderr, "aborted")

	r = run(cfg, "tokens", "get", player)
	assert.Equal(t, player+"\t10\n", r.stdout)
}

func TestBalanceGet(t *testing.T) {
	server := newBalanceServer(t, 1234567)
	cfg := writeConfig(t, server.URL)

	r := run(cfg, "balance", "get", player)
	require.NoError(t, r.err)
	assert.Equal(t, "PLAYER\tBALANCE\tSOURCE\n"+player+"\t1,234,567\tremote\n", r.stdout)

	// The entry was persisted, so a new process serves it from the cache.
	server.balance.Store(1)
	r = run(cfg, "balance", "get", player)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "1,234,567\tcache")
	assert.Equal(t, int32(1), server.hits.Load())

	server.down.Store(true)
	r = run(cfg, "balance", "get", "--refresh", player)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "1,234,567\tfallback")
	assert.Contains(t, r.stderr, "remote unavailable")
}

func TestBalanceGetRequiresAPIURL(t *testing.T) {
	cfg := writeConfig(t, "")
	r := run(cfg, "balance", "get", player)
	assert.ErrorContains(t, r.err, "api_url is not configured")
}

func TestBalanceWatch(t *testing.T) {
	server := newBalanceServer(t, 10)
	cfg := writeConfig(t, server.URL)

	r := run(cfg, "balance", "watch", "--count", "2", player)
	require.NoError(t, r.err)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, player+"\t10", lines[0])
}

func TestBalanceClear(t *testing.T) {
	server := newBalanceServer(t, 99)
	cfg := writeConfig(t, server.URL)

	require.NoError(t, run(cfg, "balance", "get", player).err)
	r := run(cfg, "balance", "clear", "--yes")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "balance cache cleared")

	server.down.Store(true)
	r = run(cfg, "balance", "get", player)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, player+"\t0\tfallback")
}

func TestWheel(t *testing.T) {
	cfg := writeConfig(t, "")

	r := run(cfg, "wheel", "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "nobody has spun yet")

	r = run(cfg, "wheel", "spin", player)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "next spin in 24h 0m 0s")

	r = run(cfg, "wheel", "spin", player)
	assert.ErrorContains(t, r.err, "cannot spin yet")

	r = run(cfg, "wheel", "status", player)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "next spin in 23h 59m")

	require.NoError(t, run(cfg, "wheel", "complete", player, "true").err)
	r = run(cfg, "wheel", "status")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, player)
	assert.Contains(t, r.stdout, "respin available")

	r = run(cfg, "wheel", "spin", player)
	require.NoError(t, r.err)

	require.NoError(t, run(cfg, "wheel", "reset", player).err)
	r = run(cfg, "wheel", "status", player)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "last spin: never")
	assert.Contains(t, r.stdout, "ready")

	r = run(cfg, "wheel", "complete", player, "maybe")
	assert.ErrorContains(t, r.err, "invalid respin value")

	require.NoError(t, run(cfg, "wheel", "spin", otherPlayer).err)
	r = run(cfg, "wheel", "clear", "--yes")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "removed 1 wheel entries")
}

func TestAssets(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/assets/css/settings.css" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(server.Close)
	cfg := writeConfig(t, server.URL)

	r := run(cfg, "assets", "stats")
	require.NoError(t, r.err)
	assert.Equal(t, "LOADED\tPENDING\n0\t0\n", r.stdout)

	r = run(cfg, "assets", "preload", "login", "cgu")
	require.NoError(t, r.err)
	assert.Equal(t, "LOADED\tPENDING\n4\t0\n", r.stdout)
	assert.Empty(t, r.stderr)

	// the startup set reuses what the sqlite store already holds
	r = run(cfg, "assets", "preload")
	require.NoError(t, r.err)
	assert.Equal(t, "LOADED\tPENDING\n9\t0\n", r.stdout)
	assert.Contains(t, r.stderr, "failed to preload assets/css/settings.css")
	assert.Equal(t, int32(10), hits.Load())

	r = run(cfg, "assets", "preload", "shop")
	assert.ErrorContains(t, r.err, `"shop", expected one of cgu, help`)
	assert.ErrorContains(t, r.err, "unknown view")

	r = run(cfg, "assets", "clear", "--yes")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "removed 9 cached assets")
}
