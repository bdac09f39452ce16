// Package fingerprint computes the stable hash that decides whether a
// deployment's inputs changed since it was last recorded.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Args hashes an artifact reference together with its resolved constructor
// arguments. Two argument lists hash equally iff they have the same types
// and values in the same order.
func Args(artifact string, args []cty.Value) (string, error) {
	tuple := cty.EmptyTupleVal
	if len(args) > 0 {
		tuple = cty.TupleVal(args)
	}
	if !tuple.IsWhollyKnown() {
		return "", fmt.Errorf("arguments of %q contain unknown values", artifact)
	}

	typeJSON, err := ctyjson.MarshalType(tuple.Type())
	if err != nil {
		return "", fmt.Errorf("encoding argument types: %w", err)
	}
	valueJSON, err := ctyjson.Marshal(tuple, tuple.Type())
	if err != nil {
		return "", fmt.Errorf("encoding argument values: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(artifact))
	h.Write([]byte{0})
	h.Write(typeJSON)
	h.Write([]byte{0})
	h.Write(valueJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}
