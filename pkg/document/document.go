package document

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingKey is returned when a raw document carries no opaque key.
var ErrMissingKey = errors.New("document has no key")

// Document is a raw provider snapshot as held by the document store.
type Document struct {
	// Key is the store's opaque identifier.
	Key string
	// Kinds lists type tags, e.g. "aws_resource", "aws_ec2_instance".
	Kinds []string
	// Reported holds the provider-reported fields.
	Reported Value
	// Account is the identifier of the account the document was collected
	// from. Empty means the document belongs to every account's corpus.
	Account string
	// Raw is the full document.
	Raw Value
}

// Parse decodes a JSON document.
func Parse(data []byte) (Document, error) {
	var raw Value
	if err := raw.UnmarshalJSON(data); err != nil {
		return Document{}, err
	}
	return FromValue(raw)
}

// FromValue builds a Document from a decoded map value.
func FromValue(raw Value) (Document, error) {
	if raw.Kind() != KindMap {
		return Document{}, fmt.Errorf("document must be an object, got %s", raw.Kind())
	}

	doc := Document{
		Key:     FirstString(raw, "_key", "key", "id"),
		Account: FirstString(raw, "account", "ancestors.account.reported.id"),
		Raw:     raw,
	}
	if doc.Key == "" {
		return Document{}, ErrMissingKey
	}

	if kinds, ok := raw.Field("kinds"); ok {
		items, _ := kinds.AsList()
		for _, item := range items {
			if s, ok := item.AsString(); ok && s != "" {
				doc.Kinds = append(doc.Kinds, s)
			}
		}
	}
	if len(doc.Kinds) == 0 {
		if kind := FirstString(raw, "kind", "reported.kind"); kind != "" {
			doc.Kinds = []string{kind}
		}
	}

	if reported, ok := raw.Field("reported"); ok {
		doc.Reported = reported
	} else {
		doc.Reported = Map(nil)
	}

	return doc, nil
}

// MarshalJSON encodes the raw document.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.Raw.Kind() == KindMap {
		return d.Raw.MarshalJSON()
	}
	kinds := make([]Value, len(d.Kinds))
	for i, k := range d.Kinds {
		kinds[i] = Text(k)
	}
	m := map[string]Value{
		"_key":     Text(d.Key),
		"kinds":    List(kinds...),
		"reported": d.Reported,
	}
	if d.Account != "" {
		m["account"] = Text(d.Account)
	}
	return Map(m).MarshalJSON()
}

// UnmarshalJSON decodes a raw document.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// HasKind reports whether kind is one of the document's tags.
func (d Document) HasKind(kind string) bool {
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// InAccount reports whether the document belongs to the given account corpus.
func (d Document) InAccount(identifier string) bool {
	return d.Account == "" || d.Account == identifier
}

// Revision is one historical version of a document.
type Revision struct {
	Revision   int64     `json:"revision"`
	ObservedAt time.Time `json:"observed_at"`
	Document   Document  `json:"document"`
}

// timestampFields are consulted in order to date a revision.
var timestampFields = []string{"updated_at", "create_time", "creation_date", "created_at"}

// Timestamp dates the revision from its reported fields, falling back to
// the time it was observed. The boolean is false when neither is known.
func (r Revision) Timestamp() (time.Time, bool) {
	if t, ok := FirstTime(r.Document.Reported, timestampFields...); ok {
		return t, true
	}
	if !r.ObservedAt.IsZero() {
		return r.ObservedAt, true
	}
	return time.Time{}, false
}
