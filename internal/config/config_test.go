package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
timezone: Europe/Brussels
max_columns: 0
sources:
  - kind: YAML
    path: ./classes.yaml
  - name: tutors
    kind: ics
    url: https://example.com/tutors.ics
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Brussels", cfg.Timezone)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, defaultRefreshCron, cfg.RefreshCron)
	assert.Equal(t, 3, cfg.MaxColumns)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, KindYAML, cfg.Sources[0].Kind)
	assert.Equal(t, "./classes.yaml", cfg.Sources[0].ID)
	assert.Equal(t, "tutors", cfg.Sources[1].ID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefreshCron = "every minute"
	cfg.Sources = []SourceConfig{
		{ID: "a", Kind: KindICS},
		{ID: "b", Kind: KindYAML},
		{ID: "c", Kind: KindSQLite},
		{ID: "d", Kind: "ldap"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"refresh", `"a"`, `"b"`, `"c"`, `unknown kind "ldap"`} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Database = "/var/lib/tutorcal/tutorcal.db"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
