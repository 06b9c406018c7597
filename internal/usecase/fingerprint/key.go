package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/kailas-cloud/fwcache/internal/domain/rule"
)

const unknown = "unknown"

// keyMaterial is the canonical structure hashed into a fingerprint.
// Field order is fixed by the struct, list order by sorting.
type keyMaterial struct {
	RuleCount  int              `json:"rule_count"`
	Providers  []string         `json:"providers"`
	Directions []string         `json:"directions"`
	Actions    []string         `json:"actions"`
	Rules      []rule.Signature `json:"rules"`
	Intent     string           `json:"intent"`
}

// Key fingerprints a rule set and audit intent. The result is the hex SHA-256
// of the rules' order-independent signatures and the normalized intent, so the
// same configuration always maps to the same key.
func Key(rules []rule.Rule, intent string) string {
	km := keyMaterial{
		RuleCount: len(rules),
		Rules:     make([]rule.Signature, len(rules)),
		Intent:    strings.ToLower(strings.TrimSpace(intent)),
	}
	providers := make([]string, len(rules))
	directions := make([]string, len(rules))
	actions := make([]string, len(rules))
	for i, r := range rules {
		providers[i] = orUnknown(string(r.CloudProvider))
		directions[i] = orUnknown(string(r.Direction))
		actions[i] = orUnknown(string(r.Action))
		km.Rules[i] = r.Signature()
	}
	km.Providers = distinct(providers)
	km.Directions = distinct(directions)
	km.Actions = distinct(actions)

	sigKeys := make([]string, len(km.Rules))
	for i, s := range km.Rules {
		sigKeys[i] = canonical(s)
	}
	order := make([]int, len(km.Rules))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if c := strings.Compare(km.Rules[a].ID, km.Rules[b].ID); c != 0 {
			return c
		}
		return strings.Compare(sigKeys[a], sigKeys[b])
	})
	sorted := make([]rule.Signature, len(order))
	for i, j := range order {
		sorted[i] = km.Rules[j]
	}
	km.Rules = sorted

	return hashOf(canonical(km))
}

func canonical(v any) string {
	raw, _ := json.Marshal(v) //nolint:errchkjson // strings, ints and string slices only
	return string(raw)
}

func hashOf(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func distinct(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
