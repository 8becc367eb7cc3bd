package gatekit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a stable cache and coalescing key from an endpoint and
// its parameters. Two requests with the same endpoint and semantically equal
// parameters produce the same fingerprint regardless of map iteration order:
// json.Marshal emits map keys sorted.
func Fingerprint(endpoint string, params map[string]any) (string, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint params: %w", err)
	}
	sum := sha256.Sum256(append([]byte(endpoint+"?"), encoded...))
	return hex.EncodeToString(sum[:]), nil
}
