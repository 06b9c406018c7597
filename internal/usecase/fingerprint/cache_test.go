package fingerprint

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/fwcache/internal/domain"
	"github.com/kailas-cloud/fwcache/internal/domain/rule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func sampleRules() []rule.Rule {
	return []rule.Rule{
		{
			ID: "fw-ssh", CloudProvider: rule.ProviderGCP, Direction: rule.Ingress, Action: rule.Allow,
			SourceRanges: []string{"10.0.0.0/8", "0.0.0.0/0"}, Protocols: []string{"tcp"}, Ports: []string{"22"},
			SourceTags: []string{"bastion"}, TargetTags: []string{"vm", "app"},
		},
		{
			ID: "fw-web", CloudProvider: rule.ProviderGCP, Direction: rule.Ingress, Action: rule.Allow,
			SourceRanges: []string{"0.0.0.0/0"}, Protocols: []string{"tcp"}, Ports: []string{"443", "80"},
		},
		{
			ID: "fw-deny-all", CloudProvider: rule.ProviderAWS, Direction: rule.Egress, Action: rule.Deny,
			DestinationRanges: []string{"0.0.0.0/0"},
		},
	}
}

func TestKey_Deterministic(t *testing.T) {
	rules := sampleRules()
	base := Key(rules, "PCI compliance")

	permuted := []rule.Rule{rules[2], rules[0], rules[1]}
	permuted[0].DestinationRanges = []string{"0.0.0.0/0"}
	permuted[1].SourceRanges = []string{"0.0.0.0/0", "10.0.0.0/8"}
	permuted[1].TargetTags = []string{"app", "vm"}
	permuted[2].Ports = []string{"80", "443"}

	tests := []struct {
		name   string
		rules  []rule.Rule
		intent string
		same   bool
	}{
		{"repeat call", rules, "PCI compliance", true},
		{"rules permuted, lists reordered", permuted, "PCI compliance", true},
		{"intent case and whitespace", rules, "  pci COMPLIANCE \n", true},
		{"different intent", rules, "hipaa", false},
		{"rule removed", rules[:2], "PCI compliance", false},
		{"port changed", func() []rule.Rule {
			r := sampleRules()
			r[0].Ports = []string{"2222"}
			return r
		}(), "PCI compliance", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.rules, tt.intent)
			if (got == base) != tt.same {
				t.Errorf("Key equality = %v, want %v", got == base, tt.same)
			}
			if len(got) != 64 {
				t.Errorf("expected hex sha256, got %q", got)
			}
		})
	}
}

func TestKey_DuplicateIDsStillOrderIndependent(t *testing.T) {
	a := rule.Rule{ID: "dup", Direction: rule.Ingress, Ports: []string{"22"}}
	b := rule.Rule{ID: "dup", Direction: rule.Egress, Ports: []string{"53"}}
	if Key([]rule.Rule{a, b}, "x") != Key([]rule.Rule{b, a}, "x") {
		t.Error("rules sharing an id must still hash independently of order")
	}
}

func TestCache_GetSet(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Hour})
	key := Key(sampleRules(), "audit")

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set(key, domain.TextPayload("3 findings"))
	p, ok := c.Get(key)
	if !ok || p.Body != "3 findings" || p.ContentType != domain.ContentTypeText {
		t.Fatalf("Get = %+v, %v", p, ok)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 || st.TotalSizeBytes != int64(len("3 findings")) {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestCache_TTLBoundary(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{MaxSize: 10, TTL: time.Hour}, WithClock(clk.Now))
	c.Set("k", domain.TextPayload("v"))

	clk.Advance(time.Hour - time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry must be a hit just before the TTL")
	}
	clk.Advance(2 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry must be a miss just after the TTL")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry must be removed on access")
	}
}

func TestCache_HitDoesNotRefresh(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{MaxSize: 10, TTL: time.Hour}, WithClock(clk.Now))
	c.Set("k", domain.TextPayload("v"))

	clk.Advance(50 * time.Minute)
	c.Get("k")
	clk.Advance(20 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("a read must not extend the entry's lifetime")
	}
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{MaxSize: 10, TTL: time.Hour}, WithClock(clk.Now))

	for i := range 12 {
		c.Set(fmt.Sprintf("k%02d", i), domain.TextPayload("v"))
		clk.Advance(time.Second)
		if n := c.Stats().Entries; n > 10 {
			t.Fatalf("cache grew to %d entries after insert %d", n, i)
		}
	}

	for _, k := range []string{"k00", "k01"} {
		if _, ok := c.Get(k); ok {
			t.Errorf("%s should have been evicted", k)
		}
	}
	for i := 2; i < 12; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%02d", i)); !ok {
			t.Errorf("k%02d should still be cached", i)
		}
	}
	if ev := c.Stats().Evictions; ev != 2 {
		t.Errorf("expected 2 evictions, got %d", ev)
	}
}

func TestCache_OverwriteInFullCacheEvicts(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{MaxSize: 3, TTL: time.Hour}, WithClock(clk.Now))
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, domain.TextPayload(k))
		clk.Advance(time.Second)
	}
	c.Set("b", domain.TextPayload("b2"))

	st := c.Stats()
	if st.Evictions == 0 || st.Entries > 3 {
		t.Errorf("expected eviction before overwrite: %+v", st)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if p, ok := c.Get("b"); !ok || p.Body != "b2" {
		t.Errorf("overwrite not applied: %+v", p)
	}
}

func TestCache_UnmeasurablePayloadUsesDefaultEstimate(t *testing.T) {
	c := New(Config{})
	c.Set("chan", domain.Payload{ContentType: domain.ContentTypeJSON, Body: make(chan int)})

	if _, ok := c.Get("chan"); !ok {
		t.Fatal("write must succeed even when the size is unknown")
	}
	if got := c.Stats().TotalSizeBytes; got != domain.DefaultSizeEstimate {
		t.Errorf("expected default estimate, got %d", got)
	}
}

func TestCache_SweepAndClear(t *testing.T) {
	clk := newFakeClock()
	c := New(Config{TTL: time.Minute}, WithClock(clk.Now))
	c.Set("old", domain.TextPayload("x"))
	clk.Advance(2 * time.Minute)
	c.Set("new", domain.TextPayload("y"))

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("expected 1 swept entry, got %d", removed)
	}
	st := c.Stats()
	if st.Entries != 1 || st.OldestEntryAt == nil || st.OldestEntryAge != 0 {
		t.Errorf("unexpected stats after sweep: %+v", st)
	}

	c.Clear()
	if st := c.Stats(); st.Entries != 0 || st.OldestEntryAt != nil {
		t.Errorf("unexpected stats after clear: %+v", st)
	}
}

func TestCache_StatsUtilization(t *testing.T) {
	c := New(Config{MaxSize: 4, TTL: 2 * time.Hour})
	c.Set("a", domain.TextPayload(strings.Repeat("x", 1<<20)))

	st := c.Stats()
	if st.UtilizationPct != 25 || st.TotalSizeMB != 1 || st.TTLHours != 2 || st.MaxSize != 4 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestCache_ConcurrentAccessStaysBounded(t *testing.T) {
	c := New(Config{MaxSize: 50, TTL: time.Hour})
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := fmt.Sprintf("g%d-%d", g, i)
				c.Set(k, domain.TextPayload(k))
				c.Get(k)
				c.Get(fmt.Sprintf("g%d-%d", g, i/2))
			}
		}()
	}
	wg.Wait()
	if n := c.Stats().Entries; n > 50 {
		t.Errorf("cache exceeded max size: %d", n)
	}
}
