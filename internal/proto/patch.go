package proto

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/halvarsen/compactd/internal/config"
)

// ApplyConfigPatch merges patch (a flat JSON fragment, e.g.
// `{"min_size": 65536}`) onto cur's current JSON serialization one field at
// a time via sjson, after checking with gjson that the patch is well-formed
// JSON. The merged document is decoded into a Config and passed through
// Validate before it's returned as a new Config — cur is never mutated in place
// (SPEC_FULL.md §4.7 expansion).
func ApplyConfigPatch(cur *config.Config, patch json.RawMessage) (*config.Config, error) {
	if !gjson.ValidBytes(patch) {
		return nil, fmt.Errorf("proto: malformed config patch")
	}

	base, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	merged := string(base)

	var setErr error
	gjson.ParseBytes(patch).ForEach(func(key, value gjson.Result) bool {
		merged, setErr = sjson.Set(merged, key.String(), value.Value())
		return setErr == nil
	})
	if setErr != nil {
		return nil, fmt.Errorf("proto: applying config patch: %w", setErr)
	}

	var next config.Config
	if err := json.Unmarshal([]byte(merged), &next); err != nil {
		return nil, fmt.Errorf("proto: patch result doesn't fit Config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}
