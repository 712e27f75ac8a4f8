package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	c := require.New(t)

	path := filepath.Join(t.TempDir(), "dql.yaml")
	c.NoError(os.WriteFile(path, []byte(`
page_size: 25
read_retry:
  attempts: 3
  min_delay: 10ms
write_concurrency: 8
timezone: UTC
profiles:
  patient:
    attempts: 20
    max_delay: 30s
wait:
  timeout: 1m
`), 0o600))

	cfg, err := LoadConfig(path)
	c.NoError(err)

	d := DefaultConfig()
	want := d
	want.PageSize = 25
	want.ReadRetry = RetryPolicy{Attempts: 3, MinDelay: 10 * time.Millisecond, MaxDelay: d.ReadRetry.MaxDelay, Jitter: d.ReadRetry.Jitter}
	want.WriteConcurrency = 8
	want.Timezone = "UTC"
	want.Profiles = map[string]RetryPolicy{
		"patient": {Attempts: 20, MinDelay: d.WriteRetry.MinDelay, MaxDelay: 30 * time.Second},
	}
	want.Wait.Timeout = time.Minute

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
	}

	loc, err := cfg.location()
	c.NoError(err)
	c.Equal(time.UTC, loc)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: [1"), 0o600))

	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestUnknownTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"

	_, err := New(nil, WithConfig(cfg))
	require.Error(t, err)
}
