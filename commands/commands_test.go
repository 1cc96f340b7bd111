package commands

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/CrowderSoup/kanban-sync/config"
	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootShowsHelp(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "serve")
}

func TestServeFlags(t *testing.T) {
	for _, name := range []string{"addr", "config", "env-file"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addServeFlags(fs)
	require.NoError(t, fs.Parse([]string{"-a", ":9999", "--config", "kanban.yml"}))
	t.Cleanup(func() { serveAddr, serveConfig, serveEnvFile = "", "", ".env" })

	assert.Equal(t, ":9999", serveAddr)
	assert.Equal(t, "kanban.yml", serveConfig)
	assert.Equal(t, ".env", serveEnvFile)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	assert.True(t, newLogger(cfg).Enabled(context.Background(), slog.LevelDebug))

	cfg.LogLevel = "loud"
	cfg.LogFormat = "json"
	log := newLogger(cfg)
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "kanban.db")

	store, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &database.SQLiteStore{}, store)
	assert.True(t, store.IsStoreReady(context.Background()))
}
