// Package guardrails decides whether a rewritten transcript can be trusted
// in place of the raw one.
package guardrails

import (
	"context"
	"fmt"
)

// Result holds the outcome of a check.
type Result struct {
	Allowed bool     `json:"allowed"`
	Flags   []string `json:"flags,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Guardrail compares a rewrite with the transcript it was produced from.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, raw, clean string) *Result
}

// Pipeline chains multiple guardrails together.
type Pipeline struct {
	guards []Guardrail
}

func NewPipeline(guards ...Guardrail) *Pipeline {
	return &Pipeline{guards: guards}
}

// Check runs every guardrail. The first block sets the reason; flags from
// all guardrails are kept.
func (p *Pipeline) Check(ctx context.Context, raw, clean string) *Result {
	combined := &Result{Allowed: true}
	for _, g := range p.guards {
		r := g.Check(ctx, raw, clean)
		if r == nil {
			continue
		}
		if !r.Allowed && combined.Allowed {
			combined.Allowed = false
			combined.Reason = fmt.Sprintf("blocked by %s: %s", g.Name(), r.Reason)
		}
		combined.Flags = append(combined.Flags, r.Flags...)
	}
	return combined
}

// DefaultPipeline returns the checks applied to every rewrite.
func DefaultPipeline() *Pipeline {
	return NewPipeline(
		NewLengthGuard(0.25, 2.0, 40),
		NewLeakGuard(),
	)
}
