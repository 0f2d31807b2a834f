// Infection model: pairwise transmission along a daily contact.
package agents

// Float64Source draws uniform values in [0, 1). *rand.Rand satisfies it.
type Float64Source interface {
	Float64() float64
}

// Infect applies the transmission rule to one unordered pair. When exactly one
// of a and b is Infected and the other is Susceptible, a single uniform draw
// below rate moves the susceptible agent to PendingInfection. No draw is made
// for any other pairing. Returns true if a transmission occurred.
func Infect(a, b *Agent, rate float64, rng Float64Source) bool {
	var target *Agent
	switch {
	case a.Health == Infected && b.Health == Susceptible:
		target = b
	case b.Health == Infected && a.Health == Susceptible:
		target = a
	default:
		return false
	}

	if rng.Float64() < rate {
		target.Health = PendingInfection
		return true
	}
	return false
}
