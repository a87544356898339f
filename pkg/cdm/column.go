package cdm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

// Kind is the closed set of column value shapes.
type Kind string

const (
	KindText       Kind = "text"
	KindBoolean    Kind = "boolean"
	KindNumeric    Kind = "numeric"
	KindTimestamp  Kind = "timestamp"
	KindJSONObject Kind = "json_object"
	KindJSONArray  Kind = "json_array"
)

func (k Kind) SQLType() string {
	switch k {
	case KindBoolean:
		return "BOOLEAN"
	case KindNumeric:
		return "DOUBLE PRECISION"
	case KindTimestamp:
		return "TIMESTAMPTZ"
	case KindJSONObject, KindJSONArray:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// Value is one extracted cell. Exactly one of the typed fields is meaningful,
// selected by Kind; Null marks SQL NULL.
type Value struct {
	Kind   Kind
	Null   bool
	Text   string
	Bool   bool
	Number float64
	Time   time.Time
	JSON   any
}

func NullValue(kind Kind) Value {
	return Value{Kind: kind, Null: true}
}

// Arg converts the value into a database/sql argument.
func (v Value) Arg() any {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case KindBoolean:
		return v.Bool
	case KindNumeric:
		return v.Number
	case KindTimestamp:
		return v.Time.UTC()
	case KindJSONObject, KindJSONArray:
		b, err := json.Marshal(v.JSON)
		if err != nil {
			if v.Kind == KindJSONArray {
				return "[]"
			}
			return "{}"
		}
		return string(b)
	default:
		return v.Text
	}
}

// ColumnDefinition maps one payload location onto one typed column. Source is
// a JMESPath expression evaluated against the payload; it defaults to the
// column name.
type ColumnDefinition struct {
	Name    string
	Kind    Kind
	SQLType string
	Source  string

	path *jmespath.JMESPath
}

// Column builds a definition and compiles its source expression.
func Column(name string, kind Kind, source ...string) ColumnDefinition {
	src := name
	if len(source) > 0 && source[0] != "" {
		src = source[0]
	}
	return ColumnDefinition{
		Name:    name,
		Kind:    kind,
		SQLType: kind.SQLType(),
		Source:  src,
		path:    jmespath.MustCompile(src),
	}
}

func Text(name string, source ...string) ColumnDefinition {
	return Column(name, KindText, source...)
}

func Bool(name string, source ...string) ColumnDefinition {
	return Column(name, KindBoolean, source...)
}

func Number(name string, source ...string) ColumnDefinition {
	return Column(name, KindNumeric, source...)
}

func Timestamp(name string, source ...string) ColumnDefinition {
	return Column(name, KindTimestamp, source...)
}

func JSONObject(name string, source ...string) ColumnDefinition {
	return Column(name, KindJSONObject, source...)
}

func JSONArray(name string, source ...string) ColumnDefinition {
	return Column(name, KindJSONArray, source...)
}

// Extract reads the column from payload and coerces it to the column kind.
func (c ColumnDefinition) Extract(payload map[string]any) Value {
	raw := c.lookup(payload)
	switch c.Kind {
	case KindBoolean:
		return extractBool(raw)
	case KindNumeric:
		return extractNumber(raw)
	case KindTimestamp:
		return extractTimestamp(raw)
	case KindJSONObject:
		if m, ok := raw.(map[string]any); ok {
			return Value{Kind: KindJSONObject, JSON: m}
		}
		return Value{Kind: KindJSONObject, JSON: map[string]any{}}
	case KindJSONArray:
		if a, ok := raw.([]any); ok {
			return Value{Kind: KindJSONArray, JSON: a}
		}
		return Value{Kind: KindJSONArray, JSON: []any{}}
	default:
		return extractText(raw)
	}
}

func (c ColumnDefinition) lookup(payload map[string]any) any {
	if payload == nil {
		return nil
	}
	if c.path == nil {
		return payload[c.Name]
	}
	v, err := c.path.Search(payload)
	if err != nil {
		return nil
	}
	return v
}

func extractText(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue(KindText)
	case string:
		return Value{Kind: KindText, Text: v}
	case bool:
		return Value{Kind: KindText, Text: strconv.FormatBool(v)}
	case float64:
		return Value{Kind: KindText, Text: strconv.FormatFloat(v, 'f', -1, 64)}
	case float32:
		return Value{Kind: KindText, Text: strconv.FormatFloat(float64(v), 'f', -1, 32)}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Value{Kind: KindText, Text: fmt.Sprintf("%d", v)}
	case json.Number:
		return Value{Kind: KindText, Text: v.String()}
	case time.Time:
		return Value{Kind: KindText, Text: v.UTC().Format(time.RFC3339Nano)}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Value{Kind: KindText, Text: fmt.Sprintf("%v", v)}
		}
		return Value{Kind: KindText, Text: string(b)}
	}
}

func extractBool(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue(KindBoolean)
	case bool:
		return Value{Kind: KindBoolean, Bool: v}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return Value{Kind: KindBoolean, Bool: true}
		case "false":
			return Value{Kind: KindBoolean, Bool: false}
		}
		return Value{Kind: KindBoolean, Bool: v != ""}
	default:
		if f, ok := toFloat(v); ok {
			return Value{Kind: KindBoolean, Bool: f != 0 && !math.IsNaN(f)}
		}
		// objects and arrays are truthy
		return Value{Kind: KindBoolean, Bool: true}
	}
}

func extractNumber(raw any) Value {
	switch v := raw.(type) {
	case nil, bool:
		return NullValue(KindNumeric)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return NullValue(KindNumeric)
		}
		return Value{Kind: KindNumeric, Number: f}
	default:
		f, ok := toFloat(v)
		if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
			return NullValue(KindNumeric)
		}
		return Value{Kind: KindNumeric, Number: f}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func extractTimestamp(raw any) Value {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return NullValue(KindTimestamp)
		}
		return Value{Kind: KindTimestamp, Time: v}
	case *time.Time:
		if v == nil || v.IsZero() {
			return NullValue(KindTimestamp)
		}
		return Value{Kind: KindTimestamp, Time: *v}
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Value{Kind: KindTimestamp, Time: t}
			}
		}
	}
	return NullValue(KindTimestamp)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
