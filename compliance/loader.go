package compliance

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
	"github.com/yairfalse/warden/storage"
)

//go:embed packs/*.yaml
var builtinPacks embed.FS

// Pack is a framework with its rules.
type Pack struct {
	Framework resource.Framework
	Rules     []resource.Rule
}

type packFile struct {
	Framework resource.Framework `yaml:"framework"`
	Rules     []ruleEntry         `yaml:"rules" validate:"dive"`
}

type ruleEntry struct {
	ID          string `yaml:"id" validate:"required"`
	Category    string `yaml:"category" validate:"required"`
	Description string `yaml:"description"`
	Type        string `yaml:"type" validate:"required"`
	Field       string `yaml:"field" validate:"required"`
	Operator    string `yaml:"operator" validate:"omitempty,oneof=equals not_equals contains not_contains greater_than less_than is_true is_false is_null is_not_null rego"`
	Expected    any    `yaml:"expected"`
	Severity    string `yaml:"severity" validate:"required,oneof=low medium high critical"`
	Remediation string `yaml:"remediation"`
	Enabled     *bool  `yaml:"enabled"`
}

var validate = validator.New()

// LoadRules parses one YAML rule pack. The operator defaults to equals, a
// rule is enabled unless it says otherwise, and the remediation defaults to
// the description.
func LoadRules(r io.Reader) (Pack, error) {
	var file packFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return Pack{}, fmt.Errorf("parse rule pack: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return Pack{}, fmt.Errorf("invalid rule pack: %w", describe(err))
	}

	pack := Pack{Framework: file.Framework, Rules: make([]resource.Rule, 0, len(file.Rules))}
	pack.Framework.Enabled = true

	seen := make(map[string]bool, len(file.Rules))
	for _, entry := range file.Rules {
		if seen[entry.ID] {
			return Pack{}, fmt.Errorf("invalid rule pack %s: duplicate rule %s", file.Framework.Name, entry.ID)
		}
		seen[entry.ID] = true
		pack.Rules = append(pack.Rules, entry.toRule(file.Framework.Name))
	}
	return pack, nil
}

func (s ruleEntry) toRule(framework string) resource.Rule {
	rule := resource.Rule{
		Framework:    framework,
		RuleID:       s.ID,
		Category:     s.Category,
		Description:  s.Description,
		ResourceType: s.Type,
		FieldPath:    s.Field,
		Operator:     resource.Operator(s.Operator),
		Expected:     document.FromAny(s.Expected),
		Severity:     s.Severity,
		Remediation:  s.Remediation,
		Enabled:      s.Enabled == nil || *s.Enabled,
	}
	if rule.Operator == "" {
		rule.Operator = resource.OpEquals
	}
	if rule.Operator == resource.OpRego {
		if expr, ok := rule.Expected.AsString(); ok {
			rule.Expected = document.Text(strings.TrimSpace(expr))
		}
	}
	if rule.Remediation == "" {
		rule.Remediation = "Ensure " + strings.ToLower(s.Description)
	}
	return rule
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// BuiltinPacks returns the embedded SOC 2 and DORA packs.
func BuiltinPacks() ([]Pack, error) {
	return loadFS(builtinPacks, "packs")
}

// LoadDir reads every .yaml and .yml pack in dir.
func LoadDir(dir string) ([]Pack, error) {
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, root string) ([]Pack, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read rule packs: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var packs []Pack
	for _, entry := range entries {
		ext := path.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		pack, err := loadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func loadFile(fsys fs.FS, name string) (Pack, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return Pack{}, fmt.Errorf("open rule pack %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	pack, err := LoadRules(f)
	if err != nil {
		return Pack{}, fmt.Errorf("%s: %w", name, err)
	}
	return pack, nil
}

// Seed stores each pack's framework and replaces its rules.
func Seed(ctx context.Context, store storage.ComplianceStore, packs []Pack) error {
	for _, pack := range packs {
		if err := store.PutFramework(ctx, pack.Framework); err != nil {
			return fmt.Errorf("seed framework %s: %w", pack.Framework.Name, err)
		}
		if err := store.PutRules(ctx, pack.Framework.Name, pack.Rules); err != nil {
			return fmt.Errorf("seed rules of %s: %w", pack.Framework.Name, err)
		}
	}
	return nil
}
