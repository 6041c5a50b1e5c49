// Package fingerprint derives the ESRP payload hash / idempotency key from
// the {target, inputs, params} subset of a Request, and provides the
// idempotency cache servers use to deduplicate side-effecting requests.
package fingerprint

import (
	"github.com/erasmus-project/esrp/canonical"
	"github.com/erasmus-project/esrp/protocol"
)

// Compute derives the payload hash of a Request's fingerprint subset: the
// SHA-256 of the canonicalization of {target, inputs, params}. variant is
// always emitted as JSON null when absent so its presence-or-absence alone
// never shifts the hash.
func Compute(subset protocol.FingerprintSubset) (string, error) {
	tree, err := subsetToTree(subset)
	if err != nil {
		return "", err
	}
	return canonical.Hash(tree)
}

// ComputeForRequest is a convenience wrapper over Compute(req.FingerprintSubset()).
func ComputeForRequest(req *protocol.Request) (string, error) {
	return Compute(req.FingerprintSubset())
}

// Verify reports whether a client-supplied idempotency key matches the
// computed fingerprint of the subset. Servers MAY call this to reject
// mismatched keys as INVALID_INPUT_SEMANTIC.
func Verify(subset protocol.FingerprintSubset, suppliedKey string) (bool, error) {
	computed, err := Compute(subset)
	if err != nil {
		return false, err
	}
	return computed == suppliedKey, nil
}

func subsetToTree(subset protocol.FingerprintSubset) (map[string]any, error) {
	target := map[string]any{
		"service":   subset.Target.Service,
		"operation": subset.Target.Operation,
	}
	if subset.Target.Variant != nil {
		target["variant"] = *subset.Target.Variant
	} else {
		target["variant"] = nil
	}

	inputs := make([]any, 0, len(subset.Inputs))
	for _, in := range subset.Inputs {
		meta := any(in.Metadata)
		if in.Metadata == nil {
			meta = map[string]any{}
		}
		inputs = append(inputs, map[string]any{
			"name":         in.Name,
			"content_type": in.ContentType,
			"data":         in.Data,
			"encoding":     string(in.Encoding),
			"metadata":     meta,
		})
	}

	return map[string]any{
		"target": target,
		"inputs": inputs,
		"params": subset.Params,
	}, nil
}
