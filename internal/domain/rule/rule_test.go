package rule

import (
	"slices"
	"testing"
)

func TestRule_Pattern(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{
			name: "protocols and ports",
			rule: Rule{Direction: Ingress, Action: Allow, Protocols: []string{"tcp"}, Ports: []string{"80", "443"}},
			want: "ingress allow rule for tcp on ports 80, 443",
		},
		{
			name: "no ports",
			rule: Rule{Direction: Egress, Action: Deny, Protocols: []string{"all"}},
			want: "egress deny rule for all",
		},
		{
			name: "empty",
			rule: Rule{},
			want: "unknown unknown rule",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Pattern(); got != tt.want {
				t.Errorf("Pattern() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRule_SignatureSortsLists(t *testing.T) {
	r := Rule{
		ID:           "fw-1",
		SourceRanges: []string{"10.0.0.0/8", "0.0.0.0/0"},
		Ports:        []string{"443", "22"},
		SourceTags:   []string{"web"},
		TargetTags:   []string{"db", "app"},
	}
	sig := r.Signature()

	if !slices.Equal(sig.SourceRanges, []string{"0.0.0.0/0", "10.0.0.0/8"}) {
		t.Errorf("source ranges not sorted: %v", sig.SourceRanges)
	}
	if !slices.Equal(sig.Ports, []string{"22", "443"}) {
		t.Errorf("ports not sorted: %v", sig.Ports)
	}
	if !slices.Equal(sig.Tags, []string{"app", "db", "web"}) {
		t.Errorf("tags not merged and sorted: %v", sig.Tags)
	}
	if r.Ports[0] != "443" {
		t.Error("Signature must not reorder the input rule")
	}
}

func TestRule_ShapeHash(t *testing.T) {
	a := Rule{ID: "a", Direction: Ingress, Action: Allow, Protocols: []string{"tcp"}, Ports: []string{"22", "80"}}
	b := Rule{ID: "b", Direction: Ingress, Action: Allow, Protocols: []string{"tcp"}, Ports: []string{"80", "22"},
		SourceRanges: []string{"0.0.0.0/0"}}
	c := Rule{ID: "c", Direction: Ingress, Action: Deny, Protocols: []string{"tcp"}, Ports: []string{"22", "80"}}

	if a.ShapeHash() != b.ShapeHash() {
		t.Error("rules with the same shape must hash equal")
	}
	if a.ShapeHash() == c.ShapeHash() {
		t.Error("rules with different actions must hash differently")
	}
}
