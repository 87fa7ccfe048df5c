package module

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// HashRecord computes a stable content hash over a record with the identity
// field(s) excluded. Fields are folded in key order so the hash does not
// depend on map iteration order.
func HashRecord(record Record, exclude ...string) string {
	skip := make(map[string]struct{}, len(exclude))
	for _, f := range exclude {
		skip[f] = struct{}{}
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		if _, ok := skip[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, record[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// importGuardKey marks a context as belonging to an engine write-back, so a
// pull-triggered local save does not re-trigger a push.
type importGuardKey struct{}

// WithImportGuard returns a context flagged as an engine-initiated local write
func WithImportGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, importGuardKey{}, true)
}

// IsImporting reports whether the context carries the import guard
func IsImporting(ctx context.Context) bool {
	v, _ := ctx.Value(importGuardKey{}).(bool)
	return v
}
