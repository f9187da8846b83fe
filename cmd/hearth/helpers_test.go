package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	amount, err := parseAmount(" 1250.75 ")
	require.NoError(t, err)
	assert.Equal(t, "1250.75", amount.String())

	_, err = parseAmount("12,50")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "empty is today", input: "", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "plain date", input: "2024-01-02", want: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", input: "2024-01-02T10:00:00+05:30", want: time.Date(2024, 1, 2, 4, 30, 0, 0, time.UTC)},
		{name: "garbage", input: "02/01/2024", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate(tt.input, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestExpandFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.qfx", "b.qfx", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600))
	}

	files, err := expandFiles([]string{filepath.Join(dir, "*.qfx"), filepath.Join(dir, "missing.ofx")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.qfx"), filepath.Join(dir, "b.qfx")}, files)

	_, err = expandFiles([]string{"[bad"})
	assert.Error(t, err)
}
