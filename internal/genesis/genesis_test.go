package genesis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/marketplace/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[model.Identity]uint64
		wantErr bool
	}{
		{
			name: "two accounts",
			input: `alloc:
  "0x1111111111111111111111111111111111111111": 1000
  "0x2222222222222222222222222222222222222222": 5
`,
			want: map[model.Identity]uint64{
				model.MustParseIdentity("0x1111111111111111111111111111111111111111"): 1000,
				model.MustParseIdentity("0x2222222222222222222222222222222222222222"): 5,
			},
		},
		{
			name:  "empty document",
			input: "",
			want:  map[model.Identity]uint64{},
		},
		{
			name:    "invalid address",
			input:   "alloc:\n  \"0x12\": 1\n",
			wantErr: true,
		},
		{
			name:    "negative amount",
			input:   "alloc:\n  \"0x1111111111111111111111111111111111111111\": -1\n",
			wantErr: true,
		},
		{
			name: "duplicate after normalization",
			input: `alloc:
  "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": 1
  "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA": 2
`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			input:   "balances: {}\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alloc:\n  \"0x1111111111111111111111111111111111111111\": 7\n"), 0o600))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got[model.MustParseIdentity("0x1111111111111111111111111111111111111111")])
}

func TestLoad_EmptyPath(t *testing.T) {
	got, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
