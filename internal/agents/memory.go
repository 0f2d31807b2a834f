// Agent memory log: one record per simulated day of what the agent was told,
// what it answered, and where it went.
package agents

// Memory records one day of an agent's life.
type Memory struct {
	Day             int      `json:"day"`
	Health          Health   `json:"health"`
	Rationale       *string  `json:"rationale,omitempty"` // Nil when the oracle gave none
	Response        string   `json:"response"`            // Raw oracle answer
	HealthNarrative string   `json:"health_narrative"`
	Location        Location `json:"location"` // Where the agent was when asked
	StayHome        bool     `json:"stay_home"`
}

// AddMemory appends the day's record to the agent's log.
func AddMemory(a *Agent, m Memory) {
	a.Memories = append(a.Memories, m)
}

// MemoryForDay returns the record for the given day, if any.
func MemoryForDay(a *Agent, day int) (Memory, bool) {
	// Records are appended in day order; search from the end.
	for i := len(a.Memories) - 1; i >= 0; i-- {
		if a.Memories[i].Day == day {
			return a.Memories[i], true
		}
		if a.Memories[i].Day < day {
			break
		}
	}
	return Memory{}, false
}

// RecentMemories returns the last count records, most recent first.
func RecentMemories(a *Agent, count int) []Memory {
	if len(a.Memories) == 0 || count <= 0 {
		return nil
	}
	if count > len(a.Memories) {
		count = len(a.Memories)
	}
	out := make([]Memory, 0, count)
	for i := len(a.Memories) - 1; i >= len(a.Memories)-count; i-- {
		out = append(out, a.Memories[i])
	}
	return out
}
