package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/marker"
)

func TestParse_DefaultsAndOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"nats": {"url": "nats://broker:4222", "connectTimeout": "10s"},
		"marker": {"prefix": "tst-", "enabled": true},
		"cache": {"monitoredKeys": ["tabMark", "note"], "idleEviction": "45s"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 10*time.Second, cfg.NATS.ConnectTimeout.Std())
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait.Std(), "unset fields keep defaults")
	assert.Equal(t, "marktabs", cfg.Store.Bucket)
	assert.Equal(t, TransportNATS, cfg.Sidebar.Transport)
	assert.Equal(t, "tst-", cfg.Marker.Prefix)
	assert.Equal(t, []string{"tabMark", "note"}, cfg.Cache.MonitoredKeys)
	assert.Equal(t, 45*time.Second, cfg.Cache.IdleEviction.Std())
}

func TestParse_DurationForms(t *testing.T) {
	cfg, err := Parse([]byte(`{"cache": {"idleEviction": "-1ns", "monitoredKeys": ["tabMark"]}}`))
	require.NoError(t, err)
	assert.Negative(t, cfg.Cache.IdleEviction.Std(), "negative duration disables eviction")

	_, err = Parse([]byte(`{"nats": {"connectTimeout": "not-a-duration"}}`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"missing nats url", `{"nats": {"url": ""}}`},
		{"unknown transport", `{"sidebar": {"transport": "carrier-pigeon"}}`},
		{"ws without url", `{"sidebar": {"transport": "ws"}}`},
		{"enabled marker without prefix", `{"marker": {"prefix": "", "enabled": true}}`},
		{"mark key not monitored", `{"cache": {"monitoredKeys": ["note"]}}`},
		{"metrics without addr", `{"metrics": {"enabled": true, "addr": ""}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.json))
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalid(err))
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nats": {"url": "nats://broker:4222"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestSafeConfig(t *testing.T) {
	safe := NewSafeConfig(Default())

	assert.Equal(t, "marked-", safe.Marker().Prefix)

	require.NoError(t, safe.SetMarker(marker.Config{Prefix: "new-", Enabled: true}))
	assert.Equal(t, "new-", safe.Marker().Prefix)

	err := safe.SetMarker(marker.Config{Enabled: true})
	require.Error(t, err, "invalid marker settings are rejected")
	assert.Equal(t, "new-", safe.Marker().Prefix, "rejected update leaves settings unchanged")

	safe.SetIdleEviction(-1)
	assert.Equal(t, time.Duration(-1), safe.IdleEviction())
}
