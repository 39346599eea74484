package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "lower case",
			input: "0x5a321c2ed3e8ad7d725d5d4a4dd5ab5a6e7d8f9c",
			want:  "0x5A321C2eD3E8aD7d725D5D4a4dD5aB5a6E7d8F9C",
		},
		{
			name:  "mixed case with spaces",
			input: "  0x5A321C2eD3E8aD7d725D5D4a4dD5aB5a6E7d8F9C ",
			want:  "0x5A321C2eD3E8aD7d725D5D4a4dD5aB5a6E7d8F9C",
		},
		{
			name:    "missing prefix",
			input:   "5a321c2ed3e8ad7d725d5d4a4dd5ab5a6e7d8f9c",
			wantErr: true,
		},
		{
			name:    "too short",
			input:   "0x5a321c",
			wantErr: true,
		},
		{
			name:    "not hex",
			input:   "0x" + strings.Repeat("z", 40),
			wantErr: true,
		},
		{
			name:    "zero address",
			input:   "0x0000000000000000000000000000000000000000",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseIdentity(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidIdentity))
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.EqualFold(tt.want, id.Hex()), "got %s", id.Hex())

			again, err := ParseIdentity(id.Hex())
			require.NoError(t, err)
			assert.Equal(t, id, again)
		})
	}
}

func TestIdentityJSONMapKey(t *testing.T) {
	id := MustParseIdentity("0x5a321c2ed3e8ad7d725d5d4a4dd5ab5a6e7d8f9c")

	data, err := json.Marshal(map[Identity]uint64{id: 10})
	require.NoError(t, err)

	var decoded map[Identity]uint64
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(10), decoded[id])
}

func TestParseProductStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    ProductStatus
		wantErr bool
	}{
		{input: "available", want: ProductStatusAvailable},
		{input: "Reserved", want: ProductStatusReserved},
		{input: " sold ", want: ProductStatusSold},
		{input: "isAvalable", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProductStatus(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProductStatusValid(t *testing.T) {
	assert.True(t, ProductStatusSold.Valid())
	assert.False(t, ProductStatus(7).Valid())
	assert.Equal(t, "ProductStatus(7)", ProductStatus(7).String())

	_, err := ProductStatus(7).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestProductJSON(t *testing.T) {
	p := Product{Name: "T-short", Price: 2000, Status: ProductStatusAvailable}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"T-short","price":2000,"status":"available"}`, string(data))
}
