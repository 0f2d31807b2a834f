package persistence

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/talgya/dewberry/internal/engine"
)

var statsColumns = []string{
	"step", "date", "susceptible", "infected", "recovered", "home", "grid",
	"new_infections", "cumulative_infections", "total_contacts", "day4",
}

// WriteStatsCSV writes one row per simulated day to path, replacing any
// previous file. Seeded infections count toward the cumulative column from
// the first row.
func WriteStatsCSV(path string, sim *engine.Simulation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating stats file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(statsColumns); err != nil {
		f.Close()
		return err
	}

	cumulative := sim.InitialInfected
	for day := range sim.NewCases {
		c := sim.Census[day]
		cumulative += sim.NewCases[day]
		row := []string{
			strconv.Itoa(day),
			engine.StartDate.AddDate(0, 0, day).Format(dateLayout),
			strconv.Itoa(c.Susceptible),
			strconv.Itoa(c.Infected),
			strconv.Itoa(c.Recovered),
			strconv.Itoa(c.Home),
			strconv.Itoa(c.Grid),
			strconv.Itoa(sim.NewCases[day]),
			strconv.Itoa(cumulative),
			strconv.Itoa(sim.TotalContacts[day]),
			strconv.Itoa(sim.Day4Counts[day]),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing stats: %w", err)
	}
	return f.Close()
}
