package query

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint computes a stable cache key over a tool kind and a set
// of normalized inputs as a sha256 over the canonicalized field list.
// Field values are lowercased and trimmed; every value list in sets
// is treated as an unordered set and sorted before hashing.
func Fingerprint(toolKind string, fields map[string]string, sets map[string][]string) string {
	var b strings.Builder
	b.WriteString(toolKind)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, normalize(fields[k]))
	}

	setKeys := make([]string, 0, len(sets))
	for k := range sets {
		setKeys = append(setKeys, k)
	}
	sort.Strings(setKeys)
	for _, k := range setKeys {
		values := append([]string(nil), sets[k]...)
		for i, v := range values {
			values[i] = normalize(v)
		}
		sort.Strings(values)
		fmt.Fprintf(&b, "|%s=[%s]", k, strings.Join(values, ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return toolKind + ":" + base64.URLEncoding.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
