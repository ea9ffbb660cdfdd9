package compliance

import (
	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
)

// Candidate is one resource offered to the rules. Rule field paths resolve
// against Value, e.g. "reported.versioning" or "tags.owner".
type Candidate struct {
	ID    string
	Name  string
	Kind  string
	Value document.Value
}

// NewCandidate builds a candidate from a classified document.
func NewCandidate(r resource.ClassifiedResource, doc document.Document, account string) Candidate {
	tags := make(map[string]document.Value, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = document.Text(v)
	}

	return Candidate{
		ID:   r.ResourceID,
		Name: r.Name,
		Kind: r.Kind,
		Value: document.Map(map[string]document.Value{
			"id":          document.Text(r.ResourceID),
			"key":         document.Text(r.DocumentKey),
			"resource_id": document.Text(r.ResourceID),
			"name":        document.Text(r.Name),
			"type":        document.Text(r.Kind),
			"provider":    document.Text(string(r.Provider)),
			"service":     document.Text(r.Service),
			"region":      document.Text(r.Region),
			"tags":        document.Map(tags),
			"reported":    doc.Reported,
			"account":     document.Text(account),
			"raw":         doc.Raw,
		}),
	}
}

// matches reports whether the rule applies to the candidate's kind.
func matches(rule resource.Rule, c Candidate) bool {
	return rule.ResourceType == resource.ResourceTypeAny || rule.ResourceType == c.Kind
}
