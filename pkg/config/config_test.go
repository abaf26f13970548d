package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `mapstructure:"name"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Replay struct {
		Speed float64 `mapstructure:"speed"`
	} `mapstructure:"replay"`
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "svc.yaml")
	require.NoError(t, os.WriteFile(file, []byte("name: svc\nhttp:\n  addr: \":8080\"\nreplay:\n  speed: 60\n"), 0644))

	t.Setenv("CFGTEST_HTTP_ADDR", ":9999")

	var out sample
	_, err := Load("cfgtest", &out, Options{File: file})
	require.NoError(t, err)

	assert.Equal(t, "svc", out.Name)
	assert.Equal(t, ":9999", out.HTTP.Addr)
	assert.Equal(t, 60.0, out.Replay.Speed)
}

func TestLoad_MissingFile(t *testing.T) {
	var out sample
	_, err := Load("cfgtest", &out, Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
