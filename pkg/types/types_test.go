package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/errdefs"
)

func TestParseDomainKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    DomainKey
		wantErr bool
	}{
		{"root", "a.example.com", DomainKey{Host: "a.example.com"}, false},
		{"prefixed", "a.example.com/27", DomainKey{Host: "a.example.com", Prefix: "27"}, false},
		{"trimmed", "  a.example.com/27 ", DomainKey{Host: "a.example.com", Prefix: "27"}, false},
		{"empty", "", DomainKey{}, true},
		{"empty host", "/27", DomainKey{}, true},
		{"empty prefix", "a.example.com/", DomainKey{}, true},
		{"nested prefix", "a.example.com/27/x", DomainKey{}, true},
		{"dot prefix", "a.example.com/..", DomainKey{}, true},
		{"whitespace host", "a example.com", DomainKey{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDomainKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errdefs.IsBadRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainKeyString(t *testing.T) {
	assert.Equal(t, "a.example.com", DomainKey{Host: "a.example.com"}.String())
	assert.Equal(t, "a.example.com/27", DomainKey{Host: "a.example.com", Prefix: "27"}.String())
	assert.True(t, DomainKey{Host: "a.example.com"}.IsRoot())
	assert.False(t, DomainKey{Host: "a.example.com", Prefix: "27"}.IsRoot())
}

func TestVersionStatusJSON(t *testing.T) {
	// Output uses the readable name.
	out, err := json.Marshal(StatusFinish)
	require.NoError(t, err)
	assert.Equal(t, `"Finish"`, string(out))

	// Input accepts the numeric admin encoding.
	var s VersionStatus
	require.NoError(t, json.Unmarshal([]byte(`1`), &s))
	assert.Equal(t, StatusFinish, s)

	require.NoError(t, json.Unmarshal([]byte(`0`), &s))
	assert.Equal(t, StatusUploading, s)

	// And the readable name, case-insensitively.
	require.NoError(t, json.Unmarshal([]byte(`"uploading"`), &s))
	assert.Equal(t, StatusUploading, s)

	assert.Error(t, json.Unmarshal([]byte(`2`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"done"`), &s))
}

func TestParseVersionStatus(t *testing.T) {
	s, err := ParseVersionStatus(0)
	require.NoError(t, err)
	assert.Equal(t, StatusUploading, s)

	s, err = ParseVersionStatus(1)
	require.NoError(t, err)
	assert.Equal(t, StatusFinish, s)

	_, err = ParseVersionStatus(7)
	assert.True(t, errdefs.IsBadRequest(err))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":     FormatPath,
		"Path": FormatPath,
		"path": FormatPath,
		"Json": FormatJSON,
		"json": FormatJSON,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, "format %q", in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.True(t, errdefs.IsBadRequest(err))
}

func TestParseACMEEnvironment(t *testing.T) {
	for in, want := range map[string]ACMEEnvironment{
		"stage": ACMEStage,
		"prod":  ACMEProd,
		"CI":    ACMECI,
	} {
		got, err := ParseACMEEnvironment(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseACMEEnvironment("production")
	assert.Error(t, err)
}
