// Package classifier derives the typed identity of a raw resource document.
package classifier

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
)

const (
	prefixAWS = "aws_"
	prefixGCP = "gcp_"

	// KindUnknown is assigned to documents without any type tag.
	KindUnknown = "unknown"

	serviceUnknown  = "unknown"
	serviceResource = "resource"
)

// genericKinds are provider-level catch-all tags.
var genericKinds = map[string]bool{
	"aws_resource": true,
	"gcp_resource": true,
}

// Natural identifier fields, in priority order.
var idFields = []string{"id", "arn", "name", "bucket", "db_instance_identifier", "instance_id"}

// Display name fields, in priority order. Falls back to the resource id.
var nameFields = []string{"name", "tags.Name", "bucket", "db_instance_identifier", "instance_id"}

// MalformedResourceError reports a document that cannot be classified.
type MalformedResourceError struct {
	Key    string
	Reason string
}

func (e *MalformedResourceError) Error() string {
	return fmt.Sprintf("malformed resource %q: %s", e.Key, e.Reason)
}

// Classify derives provider, service, id, name, region and tags from doc.
func Classify(doc document.Document) (resource.ClassifiedResource, error) {
	if doc.Reported.Kind() != document.KindMap {
		return resource.ClassifiedResource{}, &MalformedResourceError{
			Key:    doc.Key,
			Reason: fmt.Sprintf("reported must be an object, got %s", doc.Reported.Kind()),
		}
	}

	kind := SelectKind(doc.Kinds)
	resourceID := document.FirstString(doc.Reported, idFields...)
	if resourceID == "" {
		resourceID = kind + "_" + doc.Key
	}

	name := document.FirstString(doc.Reported, nameFields...)
	if name == "" {
		name = resourceID
	}

	return resource.ClassifiedResource{
		Provider:    ProviderOf(kind),
		Service:     ServiceOf(kind),
		Kind:        kind,
		ResourceID:  resourceID,
		Name:        name,
		Region:      Region(doc.Reported),
		Tags:        Tags(doc.Reported),
		DocumentKey: doc.Key,
	}, nil
}

// SelectKind picks the most specific provider-prefixed tag. Longer tags win,
// ties go to the first seen.
func SelectKind(kinds []string) string {
	best := ""
	for _, k := range kinds {
		if !hasProviderPrefix(k) || genericKinds[k] {
			continue
		}
		if len(k) > len(best) {
			best = k
		}
	}
	if best != "" {
		return best
	}

	for _, k := range kinds {
		if hasProviderPrefix(k) {
			return k
		}
	}
	if len(kinds) > 0 && kinds[0] != "" {
		return kinds[0]
	}
	return KindUnknown
}

// ProviderOf maps a kind to its provider by prefix.
func ProviderOf(kind string) resource.Provider {
	switch {
	case strings.HasPrefix(kind, prefixAWS):
		return resource.ProviderAWS
	case strings.HasPrefix(kind, prefixGCP):
		return resource.ProviderGCP
	default:
		return resource.ProviderUnknown
	}
}

// ServiceOf returns the second "_" token of a provider-prefixed kind:
// aws_ec2_instance → ec2. Generic tags map to "resource".
func ServiceOf(kind string) string {
	if genericKinds[kind] {
		return serviceResource
	}
	if !hasProviderPrefix(kind) {
		return serviceUnknown
	}
	parts := strings.Split(kind, "_")
	if len(parts) < 2 || parts[1] == "" {
		return serviceUnknown
	}
	return parts[1]
}

// Region returns the reported region, or the availability zone with its
// zone letter stripped.
func Region(reported document.Value) string {
	if region := document.FirstString(reported, "region"); region != "" {
		return region
	}
	az := document.FirstString(reported, "availability_zone")
	if az == "" {
		return ""
	}
	last, size := utf8.DecodeLastRuneInString(az)
	if last != utf8.RuneError && unicode.IsLetter(last) {
		return az[:len(az)-size]
	}
	return az
}

// Tags flattens the reported tags into strings. Both the map form and the
// [{Key, Value}] list form are accepted.
func Tags(reported document.Value) map[string]string {
	tags := make(map[string]string)
	raw, ok := reported.Field("tags")
	if !ok {
		return tags
	}

	if m, ok := raw.AsMap(); ok {
		for k, v := range m {
			if v.IsNull() {
				continue
			}
			tags[k] = v.String()
		}
		return tags
	}

	items, _ := raw.AsList()
	for _, item := range items {
		key := document.FirstString(item, "Key", "key")
		if key == "" {
			continue
		}
		tags[key] = document.FirstString(item, "Value", "value")
	}
	return tags
}

func hasProviderPrefix(kind string) bool {
	return strings.HasPrefix(kind, prefixAWS) || strings.HasPrefix(kind, prefixGCP)
}
