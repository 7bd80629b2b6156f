package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func claudeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CLAWPULSE_CLAUDE_DIR", dir)
	t.Setenv("CLAWPULSE_LOG_LEVEL", "error")
	return dir
}

func TestWithDefaultCommand(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{nil, []string{"status"}},
		{[]string{"--json"}, []string{"status", "--json"}},
		{[]string{"--debug", "login"}, []string{"--debug", "login"}},
		{[]string{"watch", "--mock"}, []string{"watch", "--mock"}},
		{[]string{"--help"}, []string{"--help"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, withDefaultCommand(tt.in))
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "clawpulse dev\n", out)
}

func TestHelp(t *testing.T) {
	code, out, _ := runCLI(t, "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "watch")
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "frobnicate")
}

func TestStatus_MockJSON(t *testing.T) {
	claudeDir(t)

	code, out, _ := runCLI(t, "status", "--mock", "--json")
	require.Equal(t, 0, code)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "max", m["subscriptionType"])
}

func TestStatus_ConflictingFormats(t *testing.T) {
	claudeDir(t)
	code, _, errOut := runCLI(t, "status", "--json", "--yaml")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "mutually exclusive")
}

func TestStatus_DefaultWithoutCredentials(t *testing.T) {
	claudeDir(t)

	code, out, errOut := runCLI(t, "--plain")
	assert.Equal(t, 2, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "No credentials found. Please login to continue.")
}

func TestLogout_RemovesOnlyOAuthSection(t *testing.T) {
	dir := claudeDir(t)
	path := filepath.Join(dir, ".credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"keep":true,"claudeAiOauth":{"accessToken":"at"}}`), 0o600))

	code, out, _ := runCLI(t, "logout")
	assert.Equal(t, 0, code)
	assert.Equal(t, "Signed out.\n", out)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "claudeAiOauth")
	assert.Contains(t, string(raw), "keep")

	code, _, _ = runCLI(t, "logout")
	assert.Equal(t, 0, code)
}

func TestWatchFlags(t *testing.T) {
	cmd := &WatchCmd{}
	parser := flags.NewParser(cmd, flags.HelpFlag|flags.PassDoubleDash)
	_, err := parser.ParseArgs([]string{"--interval", "30s", "--listen", "off", "--notify", "--mock"})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cmd.Interval)
	assert.Equal(t, "off", cmd.Listen)
	assert.True(t, cmd.Notify)
	assert.True(t, cmd.Mock)
}

func TestBadConfig(t *testing.T) {
	claudeDir(t)
	t.Setenv("CLAWPULSE_POLL_INTERVAL", "-1s")

	code, _, errOut := runCLI(t, "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "CLAWPULSE_POLL_INTERVAL")
}

func TestWatch_AutostartArgs(t *testing.T) {
	cmd := &WatchCmd{Interval: 30 * time.Second, Listen: "off", Notify: true}
	assert.Equal(t, []string{"watch", "--interval", "30s", "--listen", "off", "--notify"}, cmd.autostartArgs())
	assert.Equal(t, []string{"watch"}, (&WatchCmd{}).autostartArgs())
}

func TestWatch_InstallUninstallExclusive(t *testing.T) {
	code, _, errOut := runCLI(t, "watch", "--install", "--uninstall")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "mutually exclusive")
}
