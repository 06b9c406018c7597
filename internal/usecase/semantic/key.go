package semantic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/kailas-cloud/fwcache/internal/domain/rule"
)

const feedbackKeyPrefix = "approved_fix_"

// Key identifies a semantic entry. Hash is the exact identity; retrieval
// embeds Text and never looks at Hash.
type Key struct {
	Hash string `json:"hash"`
	Text string `json:"text"`
}

// GenerateKey describes the rules in words and prefixes the intent:
// "restrict ssh ingress allow rule for tcp on ports 22".
func GenerateKey(intent string, rules []rule.Rule) Key {
	patterns := rule.Patterns(rules)
	raw, _ := json.Marshal(struct { //nolint:errchkjson // strings only
		Intent   string   `json:"intent"`
		Patterns []string `json:"patterns"`
	}{intent, patterns})
	h := sha256.Sum256(raw)

	text := intent
	if len(patterns) > 0 {
		text = intent + " " + strings.Join(patterns, " ")
	}
	return Key{Hash: hex.EncodeToString(h[:]), Text: strings.TrimSpace(text)}
}

// FeedbackKey is the hash under which an approved fix for issue is stored.
func FeedbackKey(issue string) string {
	h := sha256.Sum256([]byte(issue))
	return feedbackKeyPrefix + hex.EncodeToString(h[:])[:16]
}
