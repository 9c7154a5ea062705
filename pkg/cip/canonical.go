// Package cip is the Conversation Intelligence Pattern store: a global,
// frequency-counted knowledge base of recurring (context, behavior)
// signatures aggregated across conversations. Identical signatures collapse
// into one row with an incremented counter; the read path feeds learned
// patterns back into live conversations.
package cip

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes pattern data into a stable, key-order-independent
// JSON form and its identity hash. Two payloads differing only in field
// order produce identical output. json.Marshal sorts map keys, which is
// the property the composite identity depends on.
func Canonicalize(data map[string]string) (canonical []byte, hash string, err error) {
	if data == nil {
		data = map[string]string{}
	}
	canonical, err = json.Marshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("cip: canonicalize pattern data: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}
