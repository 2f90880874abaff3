package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BuiltinExecutor serves the small set of server-side operations that need
// no client code: aggregate statistics that are safe to release because they
// never echo input bytes. Anything else is denied, not failed, so callers
// see a policy decision rather than a crash.
type BuiltinExecutor struct{}

// Builtin operation names.
const (
	OpSize   = "stats.size"   // total byte count per input
	OpDigest = "stats.sha256" // hex digest per input
)

func (BuiltinExecutor) Execute(ctx context.Context, codeRef string, inputs [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch codeRef {
	case OpSize:
		sizes := make([]int, len(inputs))
		for i, in := range inputs {
			sizes[i] = len(in)
		}
		return json.Marshal(map[string]any{"operation": codeRef, "sizes": sizes})
	case OpDigest:
		digests := make([]string, len(inputs))
		for i, in := range inputs {
			sum := sha256.Sum256(in)
			digests[i] = hex.EncodeToString(sum[:])
		}
		return json.Marshal(map[string]any{"operation": codeRef, "digests": digests})
	default:
		return nil, fmt.Errorf("%w: operation %q is not an approved builtin", ErrDenied, codeRef)
	}
}
