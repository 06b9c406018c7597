// Package rule models normalized cloud firewall rules as the caches see them.
package rule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
)

// Provider identifies the cloud that owns a rule.
type Provider string

// Supported providers.
const (
	ProviderGCP   Provider = "gcp"
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// Direction is the traffic direction a rule applies to.
type Direction string

// Traffic directions.
const (
	Ingress Direction = "ingress"
	Egress  Direction = "egress"
)

// Action is what a rule does with matching traffic.
type Action string

// Rule actions.
const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// Rule is a normalized firewall rule.
type Rule struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	CloudProvider     Provider          `json:"cloud_provider" yaml:"cloud_provider"`
	Direction         Direction         `json:"direction" yaml:"direction"`
	Action            Action            `json:"action" yaml:"action"`
	Priority          int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	SourceRanges      []string          `json:"source_ranges,omitempty" yaml:"source_ranges,omitempty"`
	DestinationRanges []string          `json:"destination_ranges,omitempty" yaml:"destination_ranges,omitempty"`
	SourceTags        []string          `json:"source_tags,omitempty" yaml:"source_tags,omitempty"`
	TargetTags        []string          `json:"target_tags,omitempty" yaml:"target_tags,omitempty"`
	Protocols         []string          `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	Ports             []string          `json:"ports,omitempty" yaml:"ports,omitempty"`
	Network           string            `json:"network,omitempty" yaml:"network,omitempty"`
	Disabled          bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Labels            map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Signature is the order-independent identity of a rule used for cache keys.
type Signature struct {
	ID                string   `json:"id"`
	Direction         string   `json:"direction"`
	Action            string   `json:"action"`
	SourceRanges      []string `json:"source_ranges"`
	DestinationRanges []string `json:"destination_ranges"`
	Protocols         []string `json:"protocols"`
	Ports             []string `json:"ports"`
	Tags              []string `json:"tags"`
}

// Signature returns the rule with every list field sorted.
// Source and target tags are merged into one sorted list.
func (r Rule) Signature() Signature {
	tags := make([]string, 0, len(r.SourceTags)+len(r.TargetTags))
	tags = append(tags, r.SourceTags...)
	tags = append(tags, r.TargetTags...)
	return Signature{
		ID:                r.ID,
		Direction:         string(r.Direction),
		Action:            string(r.Action),
		SourceRanges:      sortedCopy(r.SourceRanges),
		DestinationRanges: sortedCopy(r.DestinationRanges),
		Protocols:         sortedCopy(r.Protocols),
		Ports:             sortedCopy(r.Ports),
		Tags:              sortedCopy(tags),
	}
}

// Pattern describes the rule in words: "ingress allow rule for tcp on ports 22, 80".
// Protocols and ports keep their input order.
func (r Rule) Pattern() string {
	direction := string(r.Direction)
	if direction == "" {
		direction = "unknown"
	}
	action := string(r.Action)
	if action == "" {
		action = "unknown"
	}

	var b strings.Builder
	b.WriteString(direction)
	b.WriteByte(' ')
	b.WriteString(action)
	b.WriteString(" rule")
	if len(r.Protocols) > 0 {
		b.WriteString(" for ")
		b.WriteString(strings.Join(r.Protocols, ", "))
	}
	if len(r.Ports) > 0 {
		b.WriteString(" on ports ")
		b.WriteString(strings.Join(r.Ports, ", "))
	}
	return b.String()
}

// ShapeHash hashes direction, action, protocols and ports only.
// Rules with the same shape in different configs share an analysis.
func (r Rule) ShapeHash() string {
	shape := struct {
		Direction string   `json:"direction"`
		Action    string   `json:"action"`
		Protocols []string `json:"protocols"`
		Ports     []string `json:"ports"`
	}{
		Direction: string(r.Direction),
		Action:    string(r.Action),
		Protocols: sortedCopy(r.Protocols),
		Ports:     sortedCopy(r.Ports),
	}
	raw, _ := json.Marshal(shape) //nolint:errchkjson // only strings and string slices
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// Patterns returns Pattern() for every rule in order.
func Patterns(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Pattern()
	}
	return out
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	slices.Sort(out)
	return out
}
