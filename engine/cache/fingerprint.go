package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint computes a deterministic hash over (workflow id,
// version, input), per the spec's GLOSSARY definition.
func Fingerprint(definitionID string, version int, input map[string]any) (string, error) {
	h := sha256.New()
	h.Write([]byte(definitionID))
	h.Write([]byte{byte(version >> 24), byte(version >> 16), byte(version >> 8), byte(version)})

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(input))
	for _, k := range keys {
		ordered[k] = input[k]
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
