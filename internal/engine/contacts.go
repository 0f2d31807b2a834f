// Contact pairing: builds the day's bounded, randomized contact network
// among agents on the grid.
package engine

import "github.com/talgya/dewberry/internal/agents"

// contactCap is today's per-agent contact limit.
func (s *Simulation) contactCap() int {
	return ClampContactRate(s.ContactRate, len(s.OnGrid))
}

// pairContacts shuffles OnGrid in place and, in that order, fills each
// agent's interaction list with uniformly drawn partners until it reaches
// the cap or runs out of candidates. A pairing is refused when either side is
// already full, so some agents can end the phase under the cap. Returns the
// cap used.
func (s *Simulation) pairContacts() int {
	limit := s.contactCap()

	s.rng.Shuffle(len(s.OnGrid), func(i, j int) {
		s.OnGrid[i], s.OnGrid[j] = s.OnGrid[j], s.OnGrid[i]
	})

	pool := make([]agents.AgentID, 0, len(s.OnGrid))
	for _, id := range s.OnGrid {
		a := s.Agents[id]

		pool = pool[:0]
		for _, other := range s.OnGrid {
			if other != id && !a.HasInteraction(other) {
				pool = append(pool, other)
			}
		}

		for len(a.Interactions) < limit && len(pool) > 0 {
			k := s.rng.IntN(len(pool))
			addInteraction(a, s.Agents[pool[k]], limit)
			pool[k] = pool[len(pool)-1]
			pool = pool[:len(pool)-1]
		}
	}
	return limit
}

// addInteraction records a symmetric contact unless either side is full.
func addInteraction(a, b *agents.Agent, limit int) bool {
	if len(a.Interactions) >= limit || len(b.Interactions) >= limit {
		return false
	}
	a.Interactions = append(a.Interactions, b.ID)
	b.Interactions = append(b.Interactions, a.ID)
	return true
}

// countContacts sums interaction list lengths over all agents.
func (s *Simulation) countContacts() int {
	total := 0
	for _, a := range s.Agents {
		total += len(a.Interactions)
	}
	return total
}

// resolveInteractions applies the infection rule once per unordered pair,
// walking agents in id order, then clears every interaction list.
func (s *Simulation) resolveInteractions() int {
	transmissions := 0
	for _, a := range s.Agents {
		for _, pid := range a.Interactions {
			if pid <= a.ID {
				continue
			}
			if agents.Infect(a, s.Agents[pid], s.InfectionRate, s.rng) {
				transmissions++
			}
		}
	}
	for _, a := range s.Agents {
		a.Interactions = nil
	}
	return transmissions
}
