package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rolling-glass/looking-glass/pkg/config"
	"github.com/rolling-glass/looking-glass/pkg/protocol"
	"github.com/rolling-glass/looking-glass/pkg/server"
	"github.com/rolling-glass/looking-glass/pkg/storage"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	goleak.VerifyTestMain(m)
}

func TestMakeDirs(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")

	assert.Error(t, makeDirs([]string{nested}, false))
	require.NoError(t, makeDirs([]string{nested}, true))
	assert.DirExists(t, nested)

	// existing directories are fine with -p
	require.NoError(t, makeDirs([]string{nested}, true))
}

func TestRemoveItems(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	file := filepath.Join(sub, "file.txt")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := removeItems([]string{sub}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-r wasn't passed")

	missing := filepath.Join(dir, "missing")
	assert.Error(t, removeItems([]string{missing}, true, false))
	require.NoError(t, removeItems([]string{missing, sub}, true, true))
	assert.NoDirExists(t, sub)
}

func TestMoveItems(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.txt")
	second := filepath.Join(dir, "second.txt")
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(first, []byte("1"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("2"), 0o600))
	require.NoError(t, os.Mkdir(target, 0o755))

	// renaming a single file
	renamed := filepath.Join(dir, "renamed.txt")
	require.NoError(t, moveItems([]string{first}, renamed))
	assert.FileExists(t, renamed)
	assert.NoFileExists(t, first)

	err := moveItems([]string{renamed, second}, filepath.Join(dir, "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	require.NoError(t, moveItems([]string{renamed, second}, target))
	assert.FileExists(t, filepath.Join(target, "renamed.txt"))
	assert.FileExists(t, filepath.Join(target, "second.txt"))
}

func TestMkdirCommand(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "x", "y")

	rootCmd.SetArgs([]string{"mkdir", "-p", nested})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())
	assert.DirExists(t, nested)
}

func TestPrinters(t *testing.T) {
	out := new(bytes.Buffer)
	printTask(out, "Pinging [::1]:25565")
	printSubtask(out, "Brand: Void")
	printError(out, "timeout")

	text := out.String()
	assert.Contains(t, text, "Pinging [::1]:25565")
	assert.Contains(t, text, "Error:\x1b[0m timeout")
	for _, line := range strings.Split(text, "\n") {
		assert.False(t, strings.HasPrefix(line, "\x1b[0m"), "line starts with a reset: %q", line)
	}
}

func TestCommandErrorsAreReturnedNotPrinted(t *testing.T) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	dir := t.TempDir()

	rootCmd.SetArgs([]string{"mv", filepath.Join(dir, "missing"), filepath.Join(dir, "target")})
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	require.Error(t, rootCmd.Execute())
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())
}

func seedStore(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "visits.db")
	store, err := storage.Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordVisit(ctx, storage.Visit{Time: base, IP: "10.0.0.1", Intent: "status", Protocol: 767}))
	require.NoError(t, store.RecordVisit(ctx, storage.Visit{
		Time: base.Add(time.Minute), IP: "10.0.0.2", Intent: "login", Protocol: 767, Username: "Steve",
	}))
	require.NoError(t, store.RecordVisit(ctx, storage.Visit{Time: base.Add(2 * time.Minute), IP: "10.0.0.1", Intent: "status", Protocol: 47}))
	require.NoError(t, store.Close())

	return path
}

func openSeeded(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.OpenReadOnly(seedStore(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestShowVisitsJSON(t *testing.T) {
	store := openSeeded(t)
	out := new(bytes.Buffer)

	require.NoError(t, showVisits(context.Background(), out, store, "json", 2, false))

	var visits []storage.Visit
	require.NoError(t, json.Unmarshal(out.Bytes(), &visits))
	require.Len(t, visits, 2)
	assert.Equal(t, int32(47), visits[0].Protocol)
	assert.Equal(t, "Steve", visits[1].Username)
}

func TestShowVisitsYAMLAndText(t *testing.T) {
	store := openSeeded(t)

	out := new(bytes.Buffer)
	require.NoError(t, showVisits(context.Background(), out, store, "yaml", 0, false))
	assert.Contains(t, out.String(), "intent: login")
	assert.Contains(t, out.String(), "username: Steve")

	out.Reset()
	require.NoError(t, showVisits(context.Background(), out, store, "text", 0, false))
	assert.Contains(t, out.String(), "Latest visits (3)")
	assert.Contains(t, out.String(), "10.0.0.2")
	assert.Contains(t, out.String(), "Steve")
}

func TestShowProtocolCounts(t *testing.T) {
	store := openSeeded(t)

	out := new(bytes.Buffer)
	require.NoError(t, showVisits(context.Background(), out, store, "json", 0, true))

	var counts []storage.ProtocolCount
	require.NoError(t, json.Unmarshal(out.Bytes(), &counts))
	assert.Equal(t, []storage.ProtocolCount{{Protocol: 47, Count: 1}, {Protocol: 767, Count: 2}}, counts)

	out.Reset()
	require.NoError(t, showVisits(context.Background(), out, store, "text", 0, true))
	assert.Contains(t, out.String(), protocol.VersionName(767))
}

func startTestServer(t *testing.T) string {
	t.Helper()

	cfg := new(config.Config)
	cfg.Brand = "Probe"
	cfg.Listener.Timeout = 2 * time.Second
	cfg.Status.MOTD = "hello"
	cfg.Status.CacheSize = 4
	cfg.Login.Message = "Your IP address is {ip}"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.New(cfg).Serve(ctx, listener)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return listener.Addr().String()
}

func TestProbeStatus(t *testing.T) {
	addr := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, latency, err := probeStatus(ctx, addr, 767)
	require.NoError(t, err)
	assert.Equal(t, "Probe", reply.Version.Name)
	assert.Equal(t, int32(767), reply.Version.Protocol)
	require.NotNil(t, reply.Description)
	assert.Equal(t, "hello", reply.Description.Text)
	assert.Greater(t, latency, time.Duration(0))
}

func TestProbeLogin(t *testing.T) {
	addr := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	message, err := probeLogin(ctx, addr, 767, "Alex")
	require.NoError(t, err)
	assert.Equal(t, "Your IP address is 127.0.0.1", message)
}

func TestProbeRejectedProtocol(t *testing.T) {
	addr := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the server hangs up on protocol numbers it doesn't know
	_, _, err := probeStatus(ctx, addr, 1)
	assert.Error(t, err)
}

func TestProbeInvalidAddress(t *testing.T) {
	_, _, err := probeStatus(context.Background(), "no-port", 767)
	assert.Error(t, err)
}
