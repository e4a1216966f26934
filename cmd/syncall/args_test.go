package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listings_sync/models"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want cliArgs
	}{
		{
			name: "defaults to both feeds",
			args: nil,
			want: cliArgs{Types: []models.SyncType{models.SyncTypeIDX, models.SyncTypeVOW}},
		},
		{
			name: "single feed with dash limit",
			args: []string{"vow", "-500"},
			want: cliArgs{Types: []models.SyncType{models.SyncTypeVOW}, Limit: 500},
		},
		{
			name: "long limit and reset",
			args: []string{"--limit", "25", "--reset", "IDX"},
			want: cliArgs{Types: []models.SyncType{models.SyncTypeIDX}, Limit: 25, Reset: true},
		},
		{
			name: "limit with equals and duplicate feed",
			args: []string{"idx", "idx", "--limit=10", "incremental"},
			want: cliArgs{Types: []models.SyncType{models.SyncTypeIDX}, Limit: 10},
		},
		{
			name: "verbose",
			args: []string{"-v", "vow", "idx"},
			want: cliArgs{Types: []models.SyncType{models.SyncTypeVOW, models.SyncTypeIDX}, Verbose: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"mls"},
		{"--limit"},
		{"--limit", "abc"},
		{"--limit", "0"},
		{"--reset", "incremental"},
		{"-x1"},
	} {
		_, err := parseArgs(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "42s", formatDuration(42_400_000_000))
	assert.Equal(t, "3m05s", formatDuration(185_000_000_000))
	assert.Equal(t, "2h00m01s", formatDuration(7_201_000_000_000))
}
