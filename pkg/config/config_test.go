package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return f
}

// Тест проверяет значения по умолчанию.
func TestResolve_Defaults(t *testing.T) {
	dir := t.TempDir()
	opts, err := newFlags(t, "--data-dir", dir).Resolve()
	require.NoError(t, err)

	assert.Equal(t, "offline_queue", opts.SlotName)
	assert.Equal(t, 3, opts.MaxRetry)
	assert.Equal(t, 0, opts.MaxQueueSize)
	assert.Equal(t, time.Second, opts.DebounceWindow)
	assert.Equal(t, filepath.Join(dir, "checkin.db"), opts.DBPath)
	assert.Equal(t, filepath.Join(dir, "session.dat"), opts.SessionPath)
	assert.Equal(t, filepath.Join(dir, "syncinfo.json"), opts.SysInfoPath)
}

func TestResolve_Layering(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "checkin.yaml")
	err := os.WriteFile(cfgPath, []byte(
		"server_url: http://file:4000/graphql\nmax_retry: 5\ndebounce_window: 2s\nslot_name: gate_a\n"), 0o600)
	require.NoError(t, err)

	t.Setenv("CHECKIN_MAX_RETRY", "4")
	t.Setenv("CHECKIN_CALL_TIMEOUT", "3s")

	opts, err := newFlags(t, "--config", cfgPath, "--data-dir", dir, "--server", "http://flag:4000/graphql").Resolve()
	require.NoError(t, err)

	// flag beats env beats file
	assert.Equal(t, "http://flag:4000/graphql", opts.ServerURL)
	assert.Equal(t, 4, opts.MaxRetry)
	assert.Equal(t, 3*time.Second, opts.CallTimeout)
	assert.Equal(t, 2*time.Second, opts.DebounceWindow)
	assert.Equal(t, "gate_a", opts.SlotName)
}

func TestResolve_UnsetFlagsDoNotOverrideEnv(t *testing.T) {
	t.Setenv("CHECKIN_SERVER_URL", "http://env:4000/graphql")
	opts, err := newFlags(t, "--data-dir", t.TempDir()).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "http://env:4000/graphql", opts.ServerURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"zero max retry", func(o *Options) { o.MaxRetry = 0 }, true},
		{"negative queue size", func(o *Options) { o.MaxQueueSize = -1 }, true},
		{"negative debounce", func(o *Options) { o.DebounceWindow = -time.Second }, true},
		{"empty slot", func(o *Options) { o.SlotName = "" }, true},
		{"encrypt without secret", func(o *Options) { o.EncryptQueue = true }, true},
		{"encrypt with secret", func(o *Options) { o.EncryptQueue = true; o.Secret = "s3cret" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.mutate(o)
			err := o.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	o := Default()
	err := o.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
