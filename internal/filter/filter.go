// Package filter decides which classified resources get materialized.
package filter

import (
	"regexp"

	"github.com/yairfalse/warden/pkg/resource"
)

// DefaultPriorityKinds is the curated set of kinds that are materialized:
// compute, storage, database, container and backup kinds per provider.
var DefaultPriorityKinds = []string{
	// AWS
	"aws_ec2_instance",
	"aws_ec2_volume",
	"aws_s3_bucket",
	"aws_rds_instance",
	"aws_rds_cluster",
	"aws_dynamodb_table",
	"aws_efs_file_system",
	"aws_ecs_cluster",
	"aws_eks_cluster",
	"aws_lambda_function",
	"aws_backup_vault",
	"aws_backup_plan",
	// GCP
	"gcp_instance",
	"gcp_disk",
	"gcp_bucket",
	"gcp_sql_database_instance",
	"gcp_gke_cluster",
}

// DefaultInvalidIDs are values provider data surfaces in id fields that do
// not name a resource.
var DefaultInvalidIDs = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-central-1",
	"ap-southeast-1", "ap-southeast-2", "ap-northeast-1",
	"aws", "gcp", "project", "account", "unknown", "resource", "global", "none", "null",
}

var regionPatterns = []*regexp.Regexp{
	// us-east-1, us-gov-west-1
	regexp.MustCompile(`^(us|eu|ap|sa|ca|me|af|il|mx)(-gov|-iso)?-(east|west|north|south|central|northeast|northwest|southeast|southwest)-\d$`),
	// us-central1, europe-west4
	regexp.MustCompile(`^(us|europe|asia|australia|northamerica|southamerica|me|africa)-(east|west|north|south|central|northeast|northwest|southeast|southwest)\d+$`),
}

// Reason explains why a resource was rejected.
type Reason string

const (
	Accepted       Reason = ""
	RejectKind     Reason = "kind_not_selected"
	RejectEmptyID  Reason = "empty_id"
	RejectInvalid  Reason = "invalid_id"
	RejectExcluded Reason = "excluded_by_tag"
)

// Filter controls which kinds are materialized and which ids are accepted.
type Filter struct {
	priorityKinds map[string]bool
	invalidIDs    map[string]bool
	includeTags   map[string]string
	excludeTags   map[string]string
}

// New creates a Filter. Nil kind or id lists fall back to the defaults.
func New(priorityKinds, invalidIDs []string, includeTags, excludeTags map[string]string) *Filter {
	if priorityKinds == nil {
		priorityKinds = DefaultPriorityKinds
	}
	if invalidIDs == nil {
		invalidIDs = DefaultInvalidIDs
	}

	return &Filter{
		priorityKinds: toSet(priorityKinds),
		invalidIDs:    toSet(invalidIDs),
		includeTags:   includeTags,
		excludeTags:   excludeTags,
	}
}

// Default returns a Filter with the curated kinds and the default denylist.
func Default() *Filter {
	return New(nil, nil, nil, nil)
}

// ShouldMaterializeKind returns true if the kind is in the curated set.
func (f *Filter) ShouldMaterializeKind(kind string) bool {
	return f.priorityKinds[kind]
}

// ValidID returns true if id names a real resource.
func (f *Filter) ValidID(id string) bool {
	if id == "" || f.invalidIDs[id] {
		return false
	}
	for _, p := range regionPatterns {
		if p.MatchString(id) {
			return false
		}
	}
	return true
}

// Check returns Accepted or the first reason the resource is rejected.
func (f *Filter) Check(r resource.ClassifiedResource) Reason {
	if !f.ShouldMaterializeKind(r.Kind) {
		return RejectKind
	}
	if r.ResourceID == "" {
		return RejectEmptyID
	}
	if !f.ValidID(r.ResourceID) {
		return RejectInvalid
	}
	if !f.ShouldIncludeResource(r) {
		return RejectExcluded
	}
	return Accepted
}

// Accept reports whether the resource passes every check.
func (f *Filter) Accept(r resource.ClassifiedResource) bool {
	return f.Check(r) == Accepted
}

// ShouldIncludeResource returns true if the resource passes tag filters.
func (f *Filter) ShouldIncludeResource(r resource.ClassifiedResource) bool {
	// ALL include tags must match
	for k, v := range f.includeTags {
		if r.Tags == nil || r.Tags[k] != v {
			return false
		}
	}

	// ANY exclude tag excludes
	for k, v := range f.excludeTags {
		if r.Tags != nil && r.Tags[k] == v {
			return false
		}
	}

	return true
}

// Kinds returns the curated kinds.
func (f *Filter) Kinds() []string {
	kinds := make([]string, 0, len(f.priorityKinds))
	for k := range f.priorityKinds {
		kinds = append(kinds, k)
	}
	return kinds
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
