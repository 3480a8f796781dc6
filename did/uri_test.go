package did

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		wantDID   string
		wantMode  GetMode
		wantCount int
	}{
		{name: "plain", uri: "forkit", wantDID: "forkit", wantMode: ModeAll, wantCount: Unbounded},
		{name: "scoped", uri: "scope:forkit", wantDID: "scope:forkit", wantMode: ModeAll, wantCount: Unbounded},
		{name: "mode available", uri: "forkit?get=available", wantDID: "forkit", wantMode: ModeAvailable, wantCount: Unbounded},
		{name: "mode all", uri: "forkit?get=all", wantDID: "forkit", wantMode: ModeAll, wantCount: Unbounded},
		{name: "file count", uri: "forkit?files=10", wantDID: "forkit", wantMode: ModeAll, wantCount: 10},
		{name: "negative file count", uri: "forkit?files=-1", wantDID: "forkit", wantMode: ModeAll, wantCount: Unbounded},
		{name: "files and get", uri: "forkit?files=10&get=available", wantDID: "forkit", wantMode: ModeAvailable, wantCount: 10},
		{
			name:      "other params preserved",
			uri:       "forkit?get=available&stuff=hi&files=10",
			wantDID:   "forkit?stuff=hi",
			wantMode:  ModeAvailable,
			wantCount: 10,
		},
		{
			name:      "params kept in order",
			uri:       "forkit?b=2&files=3&a=1",
			wantDID:   "forkit?b=2&a=1",
			wantMode:  ModeAll,
			wantCount: 3,
		},
		{
			name:      "get last occurrence wins",
			uri:       "forkit?get=all&get=available",
			wantDID:   "forkit",
			wantMode:  ModeAvailable,
			wantCount: Unbounded,
		},
		{
			name:      "files first occurrence wins",
			uri:       "forkit?files=5&files=9",
			wantDID:   "forkit",
			wantMode:  ModeAll,
			wantCount: 5,
		},
		{
			name:      "blank values dropped",
			uri:       "forkit?empty=&files=2",
			wantDID:   "forkit",
			wantMode:  ModeAll,
			wantCount: 2,
		},
		{
			name:      "escaped values kept escaped",
			uri:       "a?x=%26b&files=1&q=a%3Db",
			wantDID:   "a?x=%26b&q=a%3Db",
			wantMode:  ModeAll,
			wantCount: 1,
		},
		{
			name:      "escaped get is decoded",
			uri:       "forkit?g%65t=available",
			wantDID:   "forkit",
			wantMode:  ModeAvailable,
			wantCount: Unbounded,
		},
		{
			name: "rucio scope with colon",
			uri: "mc16_13TeV:mc16_13TeV.361106.PowhegPythia8EvtGen_AZNLOCTEQ6L1_Zee.deriv.DAOD_PHYS." +
				"e3601_e5984_s3126_s3136_r10724_r10726_p4164?files=20",
			wantDID: "mc16_13TeV:mc16_13TeV.361106.PowhegPythia8EvtGen_AZNLOCTEQ6L1_Zee.deriv.DAOD_PHYS." +
				"e3601_e5984_s3126_s3136_r10724_r10726_p4164",
			wantMode:  ModeAll,
			wantCount: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDID, got.DID)
			assert.Equal(t, tt.wantMode, got.Mode)
			assert.Equal(t, tt.wantCount, got.FileCount)
		})
	}
}

func TestParseURIErrors(t *testing.T) {
	t.Run("bad get value names the value", func(t *testing.T) {
		_, err := ParseURI("forkit?get=all_available")
		require.Error(t, err)
		assert.True(t, errors.IsInvalidDIDError(err))
		assert.Contains(t, err.Error(), "all_available")
	})

	t.Run("non-integer files", func(t *testing.T) {
		_, err := ParseURI("forkit?files=ten")
		require.Error(t, err)
		assert.True(t, errors.IsInvalidDIDError(err))
		assert.Contains(t, err.Error(), "ten")
	})
}

func TestParseURIIdempotent(t *testing.T) {
	uris := []string{
		"forkit",
		"forkit?stuff=hi",
		"forkit?get=available&stuff=hi&files=10",
		"scope:name?a=1&b=2&a=3",
		"path?x=a%20b",
		"a?x=%26b",
		"a?q=a%3Db",
	}

	for _, uri := range uris {
		t.Run(uri, func(t *testing.T) {
			first, err := ParseURI(uri)
			require.NoError(t, err)

			second, err := ParseURI(first.DID)
			require.NoError(t, err)
			assert.Equal(t, first.DID, second.DID)
			assert.Equal(t, ModeAll, second.Mode)
			assert.Equal(t, Unbounded, second.FileCount)
		})
	}
}

func TestParsedDIDBounded(t *testing.T) {
	assert.False(t, ParsedDID{FileCount: Unbounded}.Bounded())
	assert.True(t, ParsedDID{FileCount: 0}.Bounded())
	assert.True(t, ParsedDID{FileCount: 12}.Bounded())
}
