package gates

import (
	"sort"
	"strings"

	"github.com/Mindburn-Labs/trustchain/pkg/conform"
)

// collector gathers reason codes and per-side findings for one gate.
type collector struct {
	reasons  []string
	seen     map[string]bool
	findings map[string][]string
	counts   map[string]int
}

func newCollector() *collector {
	return &collector{
		seen:     map[string]bool{},
		findings: map[string][]string{},
		counts:   map[string]int{},
	}
}

func (c *collector) fail(side, reason string, details []string) {
	if !c.seen[reason] {
		c.seen[reason] = true
		c.reasons = append(c.reasons, reason)
	}
	c.findings[side] = append(c.findings[side], details...)
}

func (c *collector) count(name string, n int) { c.counts[name] += n }

func (c *collector) failed() bool { return len(c.reasons) > 0 }

func (c *collector) sides() string {
	names := make([]string, 0, len(c.findings))
	for n := range c.findings {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, " and ")
}

func (c *collector) result(id conform.GateID, detail string) conform.GateResult {
	res := conform.Fail(id, detail, c.reasons...)
	res.Metrics.Counts = c.counts
	res.Details = make(map[string]any, len(c.findings))
	for side, f := range c.findings {
		res.Details[side] = f
	}
	return res
}
