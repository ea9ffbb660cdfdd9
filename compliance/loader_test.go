package compliance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
)

const samplePack = `
framework:
  name: SOC2
  version: Type II
  description: sample

rules:
  - id: CC6.1
    category: Access
    description: S3 Buckets Block Public Access
    type: aws_s3_bucket
    field: reported.public
    expected: false
    severity: high
  - id: A1.2
    category: Availability
    description: Backups retained
    type: aws_rds_instance
    field: reported.backup_retention_period
    operator: greater_than
    expected: 7
    severity: medium
    remediation: Raise the retention period
    enabled: false
`

func TestLoadRules(t *testing.T) {
	pack, err := LoadRules(strings.NewReader(samplePack))
	require.NoError(t, err)

	assert.Equal(t, "SOC2", pack.Framework.Name)
	assert.Equal(t, "Type II", pack.Framework.Version)
	assert.True(t, pack.Framework.Enabled)
	require.Len(t, pack.Rules, 2)

	first := pack.Rules[0]
	assert.Equal(t, "SOC2", first.Framework)
	assert.Equal(t, resource.OpEquals, first.Operator)
	assert.True(t, first.Expected.Equal(document.Bool(false)))
	assert.True(t, first.Enabled)
	assert.Equal(t, "Ensure s3 buckets block public access", first.Remediation)

	second := pack.Rules[1]
	assert.Equal(t, resource.OpGreaterThan, second.Operator)
	assert.True(t, second.Expected.Equal(document.Number(7)))
	assert.False(t, second.Enabled)
	assert.Equal(t, "Raise the retention period", second.Remediation)
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing framework name", "framework: {version: x}\nrules: []\n"},
		{"missing field", "framework: {name: X}\nrules:\n  - {id: a, category: c, type: any, severity: low}\n"},
		{"unknown severity", "framework: {name: X}\nrules:\n  - {id: a, category: c, type: any, field: f, severity: urgent}\n"},
		{"unknown operator", "framework: {name: X}\nrules:\n  - {id: a, category: c, type: any, field: f, severity: low, operator: matches}\n"},
		{"unknown key", "framework: {name: X}\nrules:\n  - {id: a, category: c, type: any, field: f, severity: low, weight: 3}\n"},
		{"duplicate rule", "framework: {name: X}\nrules:\n  - {id: a, category: c, type: any, field: f, severity: low}\n  - {id: a, category: c, type: any, field: f, severity: low}\n"},
		{"not yaml", "framework: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuiltinPacks(t *testing.T) {
	packs, err := BuiltinPacks()
	require.NoError(t, err)
	require.Len(t, packs, 2)

	names := []string{packs[0].Framework.Name, packs[1].Framework.Name}
	assert.ElementsMatch(t, []string{"SOC2", "DORA"}, names)
	for _, pack := range packs {
		assert.NotEmpty(t, pack.Rules, pack.Framework.Name)
	}

	for _, r := range packs[0].Rules {
		if r.Operator == resource.OpRego {
			expr, ok := r.Expected.AsString()
			require.True(t, ok)
			assert.Equal(t, "input.value == true", expr)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yml"), []byte(samplePack), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	packs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, "SOC2", packs[0].Framework.Name)

	_, err = LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	packs, err := BuiltinPacks()
	require.NoError(t, err)
	require.NoError(t, Seed(context.Background(), store, packs))
	// Seeding twice replaces instead of duplicating
	require.NoError(t, Seed(context.Background(), store, packs))

	frameworks, err := store.ListFrameworks(context.Background())
	require.NoError(t, err)
	assert.Len(t, frameworks, 2)

	rules, err := store.ListRules(context.Background(), "DORA")
	require.NoError(t, err)
	assert.Len(t, rules, len(packs[0].Rules))
}
