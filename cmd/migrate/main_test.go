package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-ingest/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "migrate.db"),
		BigQueryDataset: "statements",
	}
}

func TestRun_SQLiteUpDownVersion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	var out bytes.Buffer
	require.NoError(t, run(ctx, cfg, []string{"version"}, &out))
	assert.Equal(t, "version 0 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, cfg, []string{"up"}, &out))
	assert.Equal(t, "version 1 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, cfg, nil, &out))
	assert.Equal(t, "version 1 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, cfg, []string{"down", "1"}, &out))
	assert.Equal(t, "version 0 (dirty: false)\n", out.String())
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"sideways"}},
		{"bad step count", []string{"down", "zero"}},
		{"unknown target", []string{"-target", "postgres", "up"}},
		{"bigquery down", []string{"-target", "bigquery", "down"}},
		{"bigquery without project", []string{"-target", "bigquery", "up"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(ctx, cfg, tt.args, &out))
		})
	}
}
