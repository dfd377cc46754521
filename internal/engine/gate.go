package engine

import (
	"math"
	"sync"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// DefaultEpsilon is the profit movement, in percentage points, below which
// a re-emission is considered noise.
const DefaultEpsilon = 0.001

// ChangeGate tracks the last emitted profit per leg key and suppresses
// downstream re-emission when nothing moved by more than epsilon. The
// evaluation itself still runs every tick; only presentation is gated.
type ChangeGate struct {
	mu      sync.Mutex
	epsilon float64
	last    map[string]float64
}

func NewChangeGate(epsilon float64) *ChangeGate {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &ChangeGate{epsilon: epsilon, last: make(map[string]float64)}
}

// ShouldEmit reports whether the leg list differs materially from the last
// emitted one: a leg appeared or disappeared, or some profit moved by more
// than epsilon. When it returns true the list becomes the new baseline.
func (g *ChangeGate) ShouldEmit(opps []domain.Opportunity) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := len(opps) != len(g.last)
	if !changed {
		for _, o := range opps {
			prev, ok := g.last[o.Key]
			if !ok || math.Abs(o.ProfitPercent-prev) > g.epsilon {
				changed = true
				break
			}
		}
	}
	if !changed {
		return false
	}

	g.last = make(map[string]float64, len(opps))
	for _, o := range opps {
		g.last[o.Key] = o.ProfitPercent
	}
	return true
}

// Reset clears the baseline so the next snapshot always emits.
func (g *ChangeGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[string]float64)
}
