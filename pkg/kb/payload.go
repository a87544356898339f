package kb

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// stringField returns the first non-blank value among keys, stringifying
// numbers so numeric source ids still resolve.
func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(payload[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// domainOf returns the entity type prefix before the first dot.
func domainOf(entityType string) string {
	if i := strings.Index(entityType, "."); i > 0 {
		return entityType[:i]
	}
	return entityType
}

type attachment struct {
	id    string
	name  string
	props map[string]any
}

// attachmentsOf reads an attachments list or map. List entries are keyed by
// id, then name, then position; map entries by their key, in key order.
func attachmentsOf(payload map[string]any) []attachment {
	switch raw := payload["attachments"].(type) {
	case []any:
		out := make([]attachment, 0, len(raw))
		for i, item := range raw {
			a := attachment{props: map[string]any{}}
			switch v := item.(type) {
			case map[string]any:
				a.props = v
				a.name = stringField(v, "name", "filename", "title")
				a.id = stringField(v, "id", "attachment_id")
			case string:
				a.name = strings.TrimSpace(v)
			}
			if a.id == "" {
				a.id = a.name
			}
			if a.id == "" {
				a.id = strconv.Itoa(i)
			}
			out = append(out, a)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make([]attachment, 0, len(raw))
		for _, k := range keys {
			a := attachment{id: k, props: map[string]any{}}
			if v, ok := raw[k].(map[string]any); ok {
				a.props = v
				a.name = stringField(v, "name", "filename", "title")
			}
			out = append(out, a)
		}
		return out
	}
	return nil
}

type relation struct {
	target   string
	edgeType string
	props    map[string]any
}

// relationsOf reads the inline relations and links arrays. Entries are either
// a bare target key or an object naming the target and optionally the type.
func relationsOf(payload map[string]any) []relation {
	var out []relation
	for _, field := range []string{"relations", "links"} {
		items, ok := payload[field].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			switch v := item.(type) {
			case string:
				out = append(out, relation{target: strings.TrimSpace(v)})
			case map[string]any:
				out = append(out, relation{
					target:   stringField(v, "target", "target_id", "targetLogicalId", "logical_id", "id"),
					edgeType: stringField(v, "type", "relation_type", "link_type"),
					props:    v,
				})
			}
		}
	}
	return out
}
