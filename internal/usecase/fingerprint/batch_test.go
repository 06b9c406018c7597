package fingerprint

import (
	"strconv"
	"strings"
	"testing"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/domain/rule"
)

func TestPreload_StoresPlaceholders(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{}, WithClock(clk.Now))

	keys := c.Preload([]PreloadConfig{
		{Name: "default-vpc", Rules: sampleRules()},
		{Name: "web-tier", Rules: sampleRules()[:2], Intent: "PCI"},
	})
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0] != Key(sampleRules(), DefaultPreloadIntent) {
		t.Error("preload without intent must use the default intent")
	}

	p, ok := c.Get(keys[1])
	if !ok || p.ContentType != domain.ContentTypeAuditResult {
		t.Fatalf("Get = %+v, %v", p, ok)
	}
	var res PreloadResult
	if err := p.Decode(&res); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !res.Preloaded || res.ConfigName != "web-tier" || res.RuleCount != 2 || !res.Timestamp.Equal(clk.Now()) {
		t.Errorf("unexpected placeholder: %+v", res)
	}
}

func TestOptimizeForBatch(t *testing.T) {
	ssh := rule.Rule{ID: "a", Direction: rule.Ingress, Action: rule.Allow, Protocols: []string{"tcp"}, Ports: []string{"22"}}
	sshOtherID := ssh
	sshOtherID.ID = "b"
	sshOtherID.SourceRanges = []string{"10.0.0.0/8"}
	dns := rule.Rule{ID: "c", Direction: rule.Egress, Action: rule.Allow, Protocols: []string{"udp"}, Ports: []string{"53"}}
	web := rule.Rule{ID: "d", Direction: rule.Ingress, Action: rule.Allow, Protocols: []string{"tcp"}, Ports: []string{"443", "80"}}
	webReordered := web
	webReordered.Ports = []string{"80", "443"}

	c := New(Config{}, WithClock(newFakeClock().Now))
	stats := c.OptimizeForBatch([][]rule.Rule{
		{ssh, dns, web},
		{sshOtherID, webReordered},
		{dns},
	}, "Audit")

	if stats.BatchSize != 3 || stats.CommonPatterns != 3 || stats.EstimatedSavingsPct != 30 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !strings.HasPrefix(stats.PatternKey, "batch_pattern_") {
		t.Errorf("unexpected key %q", stats.PatternKey)
	}

	p, ok := c.Get(stats.PatternKey)
	if !ok {
		t.Fatal("batch analysis must be cached")
	}
	var analysis BatchAnalysis
	if err := p.Decode(&analysis); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(analysis.Patterns) != 3 || analysis.Intent != "audit" || analysis.Patterns[0].Count != 2 {
		t.Errorf("unexpected analysis: %+v", analysis)
	}
}

func TestOptimizeForBatch_SavingsCapped(t *testing.T) {
	var configs [][]rule.Rule
	for range 2 {
		var rules []rule.Rule
		for port := range 12 {
			rules = append(rules, rule.Rule{Direction: rule.Ingress, Action: rule.Allow, Ports: []string{strconv.Itoa(port)}})
		}
		configs = append(configs, rules)
	}
	stats := New(Config{}).OptimizeForBatch(configs, "x")
	if stats.CommonPatterns != 12 || stats.EstimatedSavingsPct != 90 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
