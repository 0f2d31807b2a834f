// Agent spawning: creates the initial population with names, ages and
// Big Five personality descriptors.
package agents

import (
	"math/rand/v2"
	"strings"

	"github.com/talgya/dewberry/internal/world"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	rng *rand.Rand
}

// NewSpawner creates an agent spawner with the given seed. Demographics use
// their own random stream so they never perturb the epidemic's draws.
func NewSpawner(seed uint64) *Spawner {
	return &Spawner{
		rng: rand.New(rand.NewPCG(seed, seed+300)),
	}
}

// SpawnPopulation creates healthy+infected agents placed on grid. The first
// healthy agents are Susceptible; the rest start Infected on day 1. Every
// agent starts on the grid.
func (s *Spawner) SpawnPopulation(healthy, infected int, grid world.Grid) []*Agent {
	total := healthy + infected
	out := make([]*Agent, 0, total)

	for i := 0; i < total; i++ {
		a := &Agent{
			ID:       AgentID(i),
			Name:     s.generateName(),
			Age:      uint16(18 + s.rng.IntN(47)), // 18–64
			Traits:   s.generateTraits(),
			Location: Grid,
			Position: grid.Place(i),
			Health:   Susceptible,
		}
		if i >= healthy {
			day := 1
			a.Health = Infected
			a.DayInfected = &day
		}
		out = append(out, a)
	}
	return out
}

func (s *Spawner) generateName() string {
	var firsts []string
	if s.rng.Float32() < 0.5 {
		firsts = maleNames
	} else {
		firsts = femaleNames
	}
	first := firsts[s.rng.IntN(len(firsts))]
	last := lastNames[s.rng.IntN(len(lastNames))]
	return first + " " + last
}

// generateTraits picks one descriptor from each Big Five dimension.
func (s *Spawner) generateTraits() string {
	picked := make([]string, 0, len(bigFive))
	for _, dim := range bigFive {
		picked = append(picked, dim[s.rng.IntN(len(dim))])
	}
	return strings.Join(picked, ", ")
}

// bigFive holds positive and negative markers per dimension: agreeableness,
// conscientiousness, surgency, emotional stability, intellect.
var bigFive = [][]string{
	{
		"Cooperation", "Amiability", "Empathy", "Leniency", "Courtesy", "Generosity",
		"Flexibility", "Modesty", "Morality", "Warmth", "Earthiness", "Naturalness",
		"Belligerence", "Overcriticalness", "Bossiness", "Rudeness", "Cruelty", "Pomposity",
		"Irritability", "Conceit", "Stubbornness", "Distrust", "Selfishness", "Callousness",
	},
	{
		"Organization", "Efficiency", "Dependability", "Precision", "Persistence", "Caution",
		"Punctuality", "Decisiveness", "Dignity",
		"Disorganization", "Negligence", "Inconsistency", "Forgetfulness", "Recklessness",
		"Aimlessness", "Sloth", "Indecisiveness", "Frivolity", "Nonconformity",
	},
	{
		"Spirit", "Gregariousness", "Playfulness", "Expressiveness", "Spontaneity", "Optimism", "Candor",
		"Pessimism", "Lethargy", "Passivity", "Unaggressiveness", "Inhibition", "Reserve", "Aloofness",
	},
	{
		"Placidity", "Independence",
		"Insecurity", "Emotionality",
	},
	{
		"Intellectuality", "Depth", "Insight", "Intelligence",
		"Shallowness", "Unimaginativeness", "Imperceptiveness", "Stupidity",
	},
}

var maleNames = []string{
	"James", "Robert", "John", "Michael", "David", "William", "Richard",
	"Joseph", "Thomas", "Charles", "Daniel", "Matthew", "Anthony", "Mark",
	"Steven", "Paul", "Andrew", "Joshua", "Kevin", "Brian", "George",
	"Timothy", "Ronald", "Jason", "Edward", "Jeffrey", "Ryan", "Jacob",
}

var femaleNames = []string{
	"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Barbara", "Susan",
	"Jessica", "Sarah", "Karen", "Lisa", "Nancy", "Betty", "Sandra",
	"Margaret", "Ashley", "Kimberly", "Emily", "Donna", "Michelle", "Carol",
	"Amanda", "Melissa", "Deborah", "Stephanie", "Rebecca", "Laura", "Sharon",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
	"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Wilson", "Anderson",
	"Thomas", "Taylor", "Moore", "Jackson", "Martin", "Lee", "Thompson",
	"White", "Harris", "Clark", "Lewis", "Robinson", "Walker", "Young",
}
