package poll

// DefaultMaxAttempts bounds a session at five minutes of 2s ticks.
const DefaultMaxAttempts = 150

// Budget counts ticks against a fixed limit. Every tick spends one
// attempt whether or not its fetch succeeded.
type Budget struct {
	max  int
	used int
}

// NewBudget returns a budget of max attempts. Non-positive values fall
// back to DefaultMaxAttempts.
func NewBudget(max int) *Budget {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return &Budget{max: max}
}

// Spend records one attempt and reports whether the budget is now used up.
func (b *Budget) Spend() (exhausted bool) {
	b.used++
	return b.used >= b.max
}

func (b *Budget) Used() int { return b.used }

// Remaining never goes below zero.
func (b *Budget) Remaining() int {
	if b.used >= b.max {
		return 0
	}
	return b.max - b.used
}
