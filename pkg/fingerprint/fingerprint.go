// Package fingerprint derives deterministic keys from record content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Hash returns the hex sha256 of the canonical JSON form of data.
func Hash(data any) string {
	sum := sha256.Sum256([]byte(Canonical(data)))
	return hex.EncodeToString(sum[:])
}

// SyntheticKey builds the logical key of a record that carries no logical id:
// <entityType>:<org>:<project>:<sha256 of payload and scope>.
func SyntheticKey(entityType string, scope models.Scope, payload any) string {
	digest := Hash(map[string]any{
		"payload": payload,
		"scope":   scope.Map(),
	})
	return strings.Join([]string{entityType, scope.OrgID, scope.ProjectID, digest}, ":")
}

// EdgeID is a stable id for an edge between two nodes.
func EdgeID(tenantID, edgeType, sourceID, targetID string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{tenantID, edgeType, sourceID, targetID}, "\x00")))
	return hex.EncodeToString(sum[:16])
}

// Canonical renders data as JSON with object keys sorted at every level.
func Canonical(data any) string {
	var b strings.Builder
	writeCanonical(&b, data)
	return b.String()
}

func writeCanonical(b *strings.Builder, data any) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		// encoding/json sorts map keys for any other map type
		out, err := json.Marshal(v)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(out)
	}
}
