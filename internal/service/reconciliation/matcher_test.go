package reconciliation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/service/reconciliation"
)

func TestParseMatchPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    reconciliation.MatchPolicy
		wantErr bool
	}{
		{"", reconciliation.MatchExact, false},
		{"exact", reconciliation.MatchExact, false},
		{" Prefix ", reconciliation.MatchPrefix, false},
		{"CONTAINS", reconciliation.MatchContains, false},
		{"regex", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := reconciliation.ParseMatchPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher(t *testing.T) {
	registry := elevation.NewRegistry([]elevation.Setting{
		{Name: "Visual Studio", AuthorizedGroups: []string{"Dev"}},
		{Name: "Visual Studio Code", AuthorizedGroups: []string{"Dev"}},
		{Name: "Zip", AuthorizedGroups: []string{"Ops"}},
		{Name: "7-Zip", AuthorizedGroups: []string{"Ops"}},
	}, nil)

	tests := []struct {
		name   string
		policy reconciliation.MatchPolicy
		target string
		want   string
	}{
		{"exact case-insensitive", reconciliation.MatchExact, "visual studio code", "Visual Studio Code"},
		{"exact no partial", reconciliation.MatchExact, "Visual Studio Code 1.85", ""},
		{"exact empty", reconciliation.MatchExact, "  ", ""},
		{"prefix longest wins", reconciliation.MatchPrefix, "Visual Studio Code 1.85", "Visual Studio Code"},
		{"prefix shorter", reconciliation.MatchPrefix, "Visual Studio 2022", "Visual Studio"},
		{"prefix no match", reconciliation.MatchPrefix, "Microsoft Visual Studio", ""},
		{"contains longest wins", reconciliation.MatchContains, "7-Zip File Manager", "7-Zip"},
		{"contains inner", reconciliation.MatchContains, "Microsoft Visual Studio 2022", "Visual Studio"},
		{"contains none", reconciliation.MatchContains, "Notepad++", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := reconciliation.NewMatcher(tt.policy, registry)
			require.NoError(t, err)

			got, ok := m.Match(tt.target)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestNewMatcher_Errors(t *testing.T) {
	_, err := reconciliation.NewMatcher(reconciliation.MatchExact, nil)
	assert.Error(t, err)

	_, err = reconciliation.NewMatcher("soundex", elevation.NewRegistry(nil, nil))
	assert.Error(t, err)
}
