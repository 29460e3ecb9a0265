package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ddlock.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
permit_ddl_locking = true
max_databases = 32
listen_addr = ":9090"
`), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.True(t, cfg.PermitDDLLocking)
	require.Equal(t, 32, cfg.MaxDatabases)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, 10000, cfg.DDLGraceTimeoutMS) // untouched default
}

func TestLoadFlagsOverrideTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ddlock.toml")
	require.NoError(t, os.WriteFile(path, []byte(`max_databases = 32`), 0644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-databases=64"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.MaxDatabases)
}

func TestGraceTimeoutConversion(t *testing.T) {
	cfg := Defaults()
	cfg.DDLGraceTimeoutMS = 2500
	require.Equal(t, 2500000000, int(cfg.GraceTimeout()))
}
