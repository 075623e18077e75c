package bot

import (
	"context"
	"testing"

	"github.com/dmorn/m4d-automod/sdk/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noop = HandlerFunc(func(ctx context.Context, in *Interaction, st store.Store) error { return nil })

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name     string
		expected []CommandID
		cmds     []Command
		wantErr  string
	}{
		{
			name:     "complete",
			expected: []CommandID{"a", "b"},
			cmds:     []Command{{ID: "b", Handler: noop}, {ID: "a", Handler: noop}},
		},
		{
			name:     "missing handler for expected id",
			expected: []CommandID{"a", "b"},
			cmds:     []Command{{ID: "a", Handler: noop}},
			wantErr:  "no handler for [b]",
		},
		{
			name:     "unexpected id",
			expected: []CommandID{"a"},
			cmds:     []Command{{ID: "a", Handler: noop}, {ID: "typo", Handler: noop}},
			wantErr:  `unknown command id "typo"`,
		},
		{
			name:     "duplicate command",
			expected: []CommandID{"a"},
			cmds:     []Command{{ID: "a", Handler: noop}, {ID: "a", Handler: noop}},
			wantErr:  `command "a" registered twice`,
		},
		{
			name:     "duplicate expected id",
			expected: []CommandID{"a", "a"},
			wantErr:  `command id "a" listed twice`,
		},
		{
			name:     "nil handler",
			expected: []CommandID{"a"},
			cmds:     []Command{{ID: "a"}},
			wantErr:  `command "a" has no handler`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.expected, tt.cmds...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.expected), r.Len())
		})
	}
}

func TestRegistryLookupIsExact(t *testing.T) {
	r, err := NewRegistry([]CommandID{"get_uuid"}, Command{ID: "get_uuid", Handler: noop})
	require.NoError(t, err)

	_, ok := r.Lookup("get_uuid")
	assert.True(t, ok)
	for _, name := range []string{"GET_UUID", "get_uuid ", "get", ""} {
		_, ok := r.Lookup(name)
		assert.False(t, ok, name)
	}

	var nilReg *Registry
	_, ok = nilReg.Lookup("get_uuid")
	assert.False(t, ok)
}

func TestRegistryDefinitionsInDeclarationOrder(t *testing.T) {
	minLen := 3
	r, err := NewRegistry(
		[]CommandID{"verify", "blacklist"},
		Command{ID: "blacklist", Description: "Manage the blacklist", Handler: noop},
		Command{
			ID:          "verify",
			Description: "Link your account",
			Options: []CommandOption{
				{Type: OptionString, Name: "username", Description: "Minecraft name", Required: true, MinLength: &minLen},
			},
			Handler: noop,
		},
	)
	require.NoError(t, err)

	want := []CommandDefinition{
		{
			Name:        "verify",
			Type:        CommandTypeChatInput,
			Description: "Link your account",
			Options: []CommandOption{
				{Type: OptionString, Name: "username", Description: "Minecraft name", Required: true, MinLength: &minLen},
			},
		},
		{Name: "blacklist", Type: CommandTypeChatInput, Description: "Manage the blacklist"},
	}
	if diff := cmp.Diff(want, r.Definitions()); diff != "" {
		t.Fatalf("definitions mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryIgnoresEmptyChoices(t *testing.T) {
	_, err := NewRegistry([]CommandID{"a"}, Command{
		ID:      "a",
		Options: []CommandOption{{Type: OptionString, Name: "x", Choices: []Choice{}}},
		Handler: noop,
	})
	require.NoError(t, err)
}
