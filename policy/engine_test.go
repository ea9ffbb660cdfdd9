package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Check(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		expr  string
		input Input
		want  bool
	}{
		{
			name:  "value comparison",
			expr:  "input.value >= 7",
			input: Input{Value: 14.0},
			want:  true,
		},
		{
			name:  "value comparison fails",
			expr:  "input.value >= 7",
			input: Input{Value: 1.0},
			want:  false,
		},
		{
			name:  "absent value is undefined",
			expr:  "input.value == true",
			input: Input{},
			want:  false,
		},
		{
			name: "several statements",
			expr: "input.resource.type == \"aws_s3_bucket\"\ninput.resource.reported.versioning == true",
			input: Input{Resource: map[string]any{
				"type":     "aws_s3_bucket",
				"reported": map[string]any{"versioning": true},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Check(ctx, tt.expr, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_CheckCompileError(t *testing.T) {
	engine := NewEngine(nil)

	_, err := engine.Check(context.Background(), "input.value ==", Input{})
	assert.Error(t, err)
}

func TestEngine_LoadModule(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	err := engine.LoadModule(ctx, "lib/tags.rego", `package warden.lib.tags

has_owner(resource) if {
	resource.tags.owner != ""
}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/tags.rego"}, engine.Modules())

	ok, err := engine.Check(ctx, "data.warden.lib.tags.has_owner(input.resource)", Input{
		Resource: map[string]any{"tags": map[string]any{"owner": "platform"}},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Check(ctx, "data.warden.lib.tags.has_owner(input.resource)", Input{
		Resource: map[string]any{"tags": map[string]any{}},
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_LoadModuleRejectsInvalid(t *testing.T) {
	engine := NewEngine(nil)

	err := engine.LoadModule(context.Background(), "broken.rego", "package warden.broken\n\nallow if {")
	assert.Error(t, err)
	assert.Empty(t, engine.Modules())
}

func TestEngine_LoadDir(t *testing.T) {
	engine := NewEngine(nil)

	n, err := engine.LoadDir(context.Background(), "testdata")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"lib/tags.rego"}, engine.Modules())

	_, err = engine.LoadDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
