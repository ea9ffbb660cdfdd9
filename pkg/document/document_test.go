package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	doc := mustValue(t, `{"reported":{"encrypted":true,"tags":{"Name":"web"},"size":null},"kinds":["aws_ec2_volume"]}`)

	got, ok := Get(doc, "reported.encrypted")
	require.True(t, ok)
	assert.True(t, got.Equal(Bool(true)))

	got, ok = Get(doc, "reported.tags.Name")
	require.True(t, ok)
	assert.Equal(t, "web", got.String())

	_, ok = Get(doc, "reported.missing.deeper")
	assert.False(t, ok)

	// walking through a non-map is absence, not an error
	_, ok = Get(doc, "kinds.0")
	assert.False(t, ok)

	got, ok = Get(doc, "reported.size")
	require.True(t, ok)
	assert.True(t, got.IsNull())
	assert.True(t, IsNullish(got, ok))

	_, ok = Get(doc, "reported.nothing")
	assert.True(t, IsNullish(Value{}, ok))

	self, ok := Get(doc, "")
	require.True(t, ok)
	assert.True(t, self.Equal(doc))
}

func TestFirstString(t *testing.T) {
	v := mustValue(t, `{"id":"","arn":null,"name":42,"bucket":"b"}`)
	assert.Equal(t, "42", FirstString(v, "id", "arn", "name", "bucket"))
	assert.Equal(t, "b", FirstString(v, "bucket"))
	assert.Equal(t, "", FirstString(v, "missing"))
}

func TestValue_Truthy(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null(), false},
		{"false", Bool(false), false},
		{"zero", Number(0), false},
		{"empty string", Text(""), false},
		{"empty list", List(), false},
		{"empty map", Map(nil), false},
		{"true", Bool(true), true},
		{"number", Number(7), true},
		{"string", Text("x"), true},
		{"list", List(Null()), true},
		{"map", Map(map[string]Value{"a": Null()}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Truthy())
		})
	}
}

func TestValue_EqualIsDeep(t *testing.T) {
	a := mustValue(t, `{"x":[1,{"y":"z"}],"n":1}`)
	b := mustValue(t, `{"n":1.0,"x":[1,{"y":"z"}]}`)
	c := mustValue(t, `{"n":1,"x":[1,{"y":"q"}]}`)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Number(1).Equal(Text("1")))
}

func TestValue_StringAndDisplay(t *testing.T) {
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "3", Number(3).String())
	assert.Equal(t, "2.5", Number(2.5).String())
	assert.Equal(t, `["a","b"]`, List(Text("a"), Text("b")).String())
	assert.Equal(t, `{"a":1,"b":2}`, mustValue(t, `{"b":2,"a":1}`).String())

	assert.Equal(t, "…", List(Text("a")).Display())
	assert.Equal(t, "…", Map(nil).Display())
	assert.Equal(t, "gp3", Text("gp3").Display())
}

func TestValue_Float(t *testing.T) {
	f, ok := Text(" 12.5 ").Float()
	require.True(t, ok)
	assert.Equal(t, 12.5, f)

	f, ok = Bool(true).Float()
	require.True(t, ok)
	assert.Equal(t, 1.0, f)

	_, ok = Text("seven").Float()
	assert.False(t, ok)

	_, ok = Null().Float()
	assert.False(t, ok)
}

func TestValue_Time(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got, ok := Text("2024-03-01T12:00:00Z").Time()
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = Text("2024-03-01 12:00:00").Time()
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = Number(float64(want.Unix())).Time()
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = Text("yesterday").Time()
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{
		"_key": "abc",
		"kinds": ["aws_resource", "aws_ec2_volume"],
		"account": "123456789012",
		"reported": {"id": "vol-1", "size": 8}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "abc", doc.Key)
	assert.Equal(t, []string{"aws_resource", "aws_ec2_volume"}, doc.Kinds)
	assert.Equal(t, "123456789012", doc.Account)
	assert.True(t, doc.HasKind("aws_ec2_volume"))
	assert.True(t, doc.InAccount("123456789012"))
	assert.False(t, doc.InAccount("999"))

	size, ok := Get(doc.Reported, "size")
	require.True(t, ok)
	assert.Equal(t, "8", size.String())
}

func TestParse_AccountFromAncestors(t *testing.T) {
	doc, err := Parse([]byte(`{"id":"n1","kinds":["gcp_disk"],"ancestors":{"account":{"reported":{"id":"proj-1"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "proj-1", doc.Account)
	assert.Equal(t, KindMap, doc.Reported.Kind())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`{"kinds":["aws_ec2_volume"]}`))
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = Parse([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{`))
	assert.Error(t, err)
}

func TestRevision_JSONAndTimestamp(t *testing.T) {
	doc, err := Parse([]byte(`{"_key":"k","kinds":["aws_s3_bucket"],"reported":{"created_at":"2023-01-02T00:00:00Z"}}`))
	require.NoError(t, err)

	rev := Revision{Revision: 3, ObservedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Document: doc}
	data, err := json.Marshal(rev)
	require.NoError(t, err)

	var decoded Revision
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(3), decoded.Revision)
	assert.Equal(t, "k", decoded.Document.Key)

	ts, ok := decoded.Timestamp()
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), ts)

	undated := Revision{Document: Document{Key: "x", Reported: Map(nil)}}
	_, ok = undated.Timestamp()
	assert.False(t, ok)
}

func mustValue(t *testing.T, raw string) Value {
	t.Helper()
	var v Value
	require.NoError(t, v.UnmarshalJSON([]byte(raw)))
	return v
}
