package nsconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/domain"
)

func TestStatic_TryGetNamespace(t *testing.T) {
	provider := NewStatic(domain.NamespaceConfig{ID: "tools"})

	cfg, ok := provider.TryGetNamespace("tools")
	require.True(t, ok)
	assert.Equal(t, domain.NamespaceID("tools"), cfg.ID)

	_, ok = provider.TryGetNamespace("missing")
	assert.False(t, ok)
}

func TestParseEntries(t *testing.T) {
	tests := []struct {
		name     string
		settings []EntrySettings
		want     []domain.AclEntry
		wantErr  bool
	}{
		{
			name:     "valid entries",
			settings: []EntrySettings{{Claim: "group:ci", Actions: []string{"UploadTool", " downloadtool "}}},
			want: []domain.AclEntry{{
				Claim:   domain.Claim{Type: "group", Value: "ci"},
				Actions: []domain.AclAction{domain.AclActionUploadTool, domain.AclActionDownloadTool},
			}},
		},
		{
			name:     "malformed claim",
			settings: []EntrySettings{{Claim: "ci", Actions: []string{"UploadTool"}}},
			wantErr:  true,
		},
		{
			name:     "unknown action",
			settings: []EntrySettings{{Claim: "group:ci", Actions: []string{"Launch"}}},
			wantErr:  true,
		},
		{
			name:     "no actions",
			settings: []EntrySettings{{Claim: "group:ci"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntries("tools", tt.settings)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
