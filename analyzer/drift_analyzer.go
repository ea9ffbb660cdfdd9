package analyzer

import (
	"sort"
	"strings"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
)

// DefaultHighRiskFields are top-level reported keys whose drift is always High.
var DefaultHighRiskFields = []string{
	"security_groups", "vpc_security_groups", "security_group_ids",
	"encrypted", "storage_encrypted", "encryption", "kms_key_id", "server_side_encryption_configuration",
	"public_access_block", "public_access_block_configuration", "publicly_accessible", "public_ip_address", "public",
	"logging", "access_logging", "bucket_logging",
	"versioning", "bucket_versioning",
	"lifecycle_rules", "lifecycle_configuration",
	"cors_rules", "cors_configuration",
	"bucket_policy", "policy",
	"acl", "grants",
	"replication_configuration", "backup_retention_period", "multi_az",
}

// DefaultMediumRiskFields are capacity and observability keys.
var DefaultMediumRiskFields = []string{
	"instance_type", "volume_type", "storage_class", "db_instance_class",
	"monitoring", "enhanced_monitoring", "cloudwatch_logs", "alarms",
}

const (
	DefaultHighChangeThreshold   = 5
	DefaultMediumChangeThreshold = 3
)

// Impact texts by matched risk set.
const (
	ImpactHighRisk   = "Security or recoverability configuration changed from baseline"
	ImpactMediumRisk = "Capacity or observability configuration changed from baseline"
	ImpactDefault    = "Configuration changed from baseline"
)

// Options tunes drift severity. Empty lists and zero thresholds fall back to
// the defaults.
type Options struct {
	HighRiskFields        []string
	MediumRiskFields      []string
	HighChangeThreshold   int
	MediumChangeThreshold int
}

// Detector compares reported fields of two document versions.
type Detector struct {
	highRisk        map[string]bool
	mediumRisk      map[string]bool
	highThreshold   int
	mediumThreshold int
}

// NewDetector creates a detector with the given severity policy.
func NewDetector(opts Options) *Detector {
	if len(opts.HighRiskFields) == 0 {
		opts.HighRiskFields = DefaultHighRiskFields
	}
	if len(opts.MediumRiskFields) == 0 {
		opts.MediumRiskFields = DefaultMediumRiskFields
	}
	if opts.HighChangeThreshold <= 0 {
		opts.HighChangeThreshold = DefaultHighChangeThreshold
	}
	if opts.MediumChangeThreshold <= 0 {
		opts.MediumChangeThreshold = DefaultMediumChangeThreshold
	}
	return &Detector{
		highRisk:        toSet(opts.HighRiskFields),
		mediumRisk:      toSet(opts.MediumRiskFields),
		highThreshold:   opts.HighChangeThreshold,
		mediumThreshold: opts.MediumChangeThreshold,
	}
}

// DefaultDetector returns a detector with the default severity policy.
func DefaultDetector() *Detector {
	return NewDetector(Options{})
}

// DetectDrift returns the reported fields that differ between historical and
// current, sorted by path.
func (d *Detector) DetectDrift(current, historical document.Document) []resource.DriftChange {
	return compareFlat(flatten(historical.Reported), flatten(current.Reported))
}

func compareFlat(before, after map[string]document.Value) []resource.DriftChange {
	paths := make([]string, 0, len(before)+len(after))
	for p := range before {
		paths = append(paths, p)
	}
	for p := range after {
		if _, ok := before[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var changes []resource.DriftChange
	for _, path := range paths {
		from, hadFrom := before[path]
		to, hasTo := after[path]
		if hadFrom && hasTo && from.Equal(to) {
			continue
		}

		change := resource.DriftChange{Path: path}
		switch {
		case !hadFrom:
			change.ChangeType = resource.ChangeAdded
		case !hasTo:
			change.ChangeType = resource.ChangeRemoved
		case from.Kind() == document.KindMap && to.Kind() == document.KindMap:
			change.ChangeType = resource.ChangeModified
		case from.Kind() == document.KindList && to.Kind() == document.KindList:
			change.ChangeType = resource.ChangeListModified
		default:
			change.ChangeType = resource.ChangeValueChanged
		}
		if hadFrom {
			change.From = from.Display()
		}
		if hasTo {
			change.To = to.Display()
		}
		changes = append(changes, change)
	}
	return changes
}

// flatten expands top-level maps one level into "parent.child" paths.
// Deeper values stay whole and nulls are dropped.
func flatten(reported document.Value) map[string]document.Value {
	out := make(map[string]document.Value)
	fields, ok := reported.AsMap()
	if !ok {
		return out
	}
	for key, value := range fields {
		if value.IsNull() {
			continue
		}
		children, isMap := value.AsMap()
		if !isMap {
			out[key] = value
			continue
		}
		for child, v := range children {
			if v.IsNull() {
				continue
			}
			out[key+"."+child] = v
		}
	}
	return out
}

// Severity grades a set of changes.
func (d *Detector) Severity(changes []resource.DriftChange) resource.Severity {
	n := len(changes)
	switch {
	case n == 0:
		return resource.SeverityNone
	case d.touches(changes, d.highRisk) || n >= d.highThreshold:
		return resource.SeverityHigh
	case n >= d.mediumThreshold:
		return resource.SeverityMedium
	default:
		return resource.SeverityLow
	}
}

// Impact describes what kind of configuration drifted.
func (d *Detector) Impact(changes []resource.DriftChange) string {
	switch {
	case d.touches(changes, d.highRisk):
		return ImpactHighRisk
	case d.touches(changes, d.mediumRisk):
		return ImpactMediumRisk
	default:
		return ImpactDefault
	}
}

func (d *Detector) touches(changes []resource.DriftChange, set map[string]bool) bool {
	for _, c := range changes {
		if set[topLevelKey(c.Path)] {
			return true
		}
	}
	return false
}

func topLevelKey(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
