package persistence

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/talgya/dewberry/internal/agents"
	"github.com/talgya/dewberry/internal/engine"
	"github.com/talgya/dewberry/internal/world"
)

// Version is the checkpoint schema version written by Encode.
const Version = 1

const dateLayout = "2006-01-02"

var (
	// ErrDigestMismatch means the checkpoint body does not match its header.
	ErrDigestMismatch = errors.New("checkpoint digest mismatch")
	// ErrUnsupportedVersion means the checkpoint was written by an
	// incompatible schema.
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("persistence: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("persistence: CBOR decoder initialization failed: " + err.Error())
	}
}

// Header is the plain JSON first line of a checkpoint file, readable without
// decoding the body.
type Header struct {
	Version   int       `json:"version"`
	RunName   string    `json:"run_name"`
	Run       int       `json:"run"`
	Day       int       `json:"day"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	BodySize  int       `json:"body_size"`
	Digest    string    `json:"digest"` // BLAKE3-256 of the CBOR body, hex
}

// CheckpointV1 is the complete persisted state of a simulation.
type CheckpointV1 struct {
	Header Header `json:"-" cbor:"-"`

	Config    ConfigV1   `json:"config"`
	RandState []byte     `json:"rand_state"`
	Date      string     `json:"date"`
	Counters  CountersV1 `json:"counters"`
	OnGrid    []uint64   `json:"on_grid"`
	History   HistoryV1  `json:"history"`
	Agents    []AgentV1  `json:"agents"`
}

type ConfigV1 struct {
	Population       int     `json:"population"`
	Height           int     `json:"height"`
	Width            int     `json:"width"`
	ContactRate      int     `json:"contact_rate"`
	InfectionRate    float64 `json:"infection_rate"`
	HealingThreshold int     `json:"healing_threshold"`
	TargetDays       int     `json:"target_days"`
	InitialInfected  int     `json:"initial_infected"`
}

type CountersV1 struct {
	Day           int `json:"day"`
	InfectedCount int `json:"infected_count"`
	DailyNewCases int `json:"daily_new_cases"`
	ZeroStreak    int `json:"zero_streak"`
}

type HistoryV1 struct {
	NewCases      []int      `json:"new_cases"`
	Day4Counts    []int      `json:"day4_counts"`
	TotalContacts []int      `json:"total_contacts"`
	Census        []CensusV1 `json:"census"`
}

type CensusV1 struct {
	Susceptible int `json:"s"`
	Pending     int `json:"p"`
	Infected    int `json:"i"`
	Recovered   int `json:"r"`
	Home        int `json:"home"`
	Grid        int `json:"grid"`
}

type AgentV1 struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name"`
	Age          uint16     `json:"age"`
	Traits       string     `json:"traits"`
	Health       string     `json:"health"`
	DayInfected  *int       `json:"day_infected"`
	Location     string     `json:"location"`
	PosX         int        `json:"pos_x"`
	PosY         int        `json:"pos_y"`
	Interactions []uint64   `json:"interactions,omitempty"`
	Memories     []MemoryV1 `json:"memories,omitempty"`
}

type MemoryV1 struct {
	Day             int     `json:"day"`
	Health          string  `json:"health"`
	Rationale       *string `json:"rationale"`
	Response        string  `json:"response"`
	HealthNarrative string  `json:"health_narrative"`
	Location        string  `json:"location"`
	StayHome        bool    `json:"stay_home"`
}

// Snapshot copies the simulation into a checkpoint. The header is left for
// the caller to fill.
func Snapshot(sim *engine.Simulation) (CheckpointV1, error) {
	state, err := sim.RandState()
	if err != nil {
		return CheckpointV1{}, fmt.Errorf("rng state: %w", err)
	}

	cp := CheckpointV1{
		Config: ConfigV1{
			Population:       sim.Population(),
			Height:           sim.Grid.Height,
			Width:            sim.Grid.Width,
			ContactRate:      sim.ContactRate,
			InfectionRate:    sim.InfectionRate,
			HealingThreshold: sim.HealingThreshold,
			InitialInfected:  sim.InitialInfected,
		},
		RandState: state,
		Date:      sim.Date.Format(dateLayout),
		Counters: CountersV1{
			Day:           sim.Day,
			InfectedCount: sim.InfectedCount,
			DailyNewCases: sim.DailyNewCases,
			ZeroStreak:    sim.ZeroStreak,
		},
		OnGrid: idsToUint(sim.OnGrid),
		History: HistoryV1{
			NewCases:      append([]int(nil), sim.NewCases...),
			Day4Counts:    append([]int(nil), sim.Day4Counts...),
			TotalContacts: append([]int(nil), sim.TotalContacts...),
		},
		Agents: make([]AgentV1, 0, len(sim.Agents)),
	}
	for _, c := range sim.Census {
		cp.History.Census = append(cp.History.Census, CensusV1(c))
	}

	for _, a := range sim.Agents {
		av := AgentV1{
			ID:           uint64(a.ID),
			Name:         a.Name,
			Age:          a.Age,
			Traits:       a.Traits,
			Health:       a.Health.String(),
			Location:     a.Location.String(),
			PosX:         a.Position.X,
			PosY:         a.Position.Y,
			Interactions: idsToUint(a.Interactions),
		}
		if a.DayInfected != nil {
			d := *a.DayInfected
			av.DayInfected = &d
		}
		for _, m := range a.Memories {
			av.Memories = append(av.Memories, MemoryV1{
				Day:             m.Day,
				Health:          m.Health.String(),
				Rationale:       m.Rationale,
				Response:        m.Response,
				HealthNarrative: m.HealthNarrative,
				Location:        m.Location.String(),
				StayHome:        m.StayHome,
			})
		}
		cp.Agents = append(cp.Agents, av)
	}
	return cp, nil
}

// Restore rebuilds a simulation from a checkpoint. The oracle and logger
// are left at their defaults for the caller to set.
func Restore(cp CheckpointV1) (*engine.Simulation, error) {
	grid := world.Grid{Width: cp.Config.Width, Height: cp.Config.Height}
	if grid.Cells() != cp.Config.Population || len(cp.Agents) != cp.Config.Population {
		return nil, fmt.Errorf("checkpoint holds %d agents for population %d on %v",
			len(cp.Agents), cp.Config.Population, grid)
	}

	pop := make([]*agents.Agent, 0, len(cp.Agents))
	for _, av := range cp.Agents {
		a, err := restoreAgent(av)
		if err != nil {
			return nil, err
		}
		pop = append(pop, a)
	}

	sim, err := engine.NewSimulation(pop, grid, engine.Params{
		ContactRate:      cp.Config.ContactRate,
		InfectionRate:    cp.Config.InfectionRate,
		HealingThreshold: cp.Config.HealingThreshold,
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := sim.SetRandState(cp.RandState); err != nil {
		return nil, err
	}

	date, err := time.Parse(dateLayout, cp.Date)
	if err != nil {
		return nil, fmt.Errorf("checkpoint date: %w", err)
	}
	sim.Date = date
	sim.Day = cp.Counters.Day
	sim.InfectedCount = cp.Counters.InfectedCount
	sim.DailyNewCases = cp.Counters.DailyNewCases
	sim.ZeroStreak = cp.Counters.ZeroStreak
	sim.InitialInfected = cp.Config.InitialInfected
	sim.OnGrid = uintToIDs(cp.OnGrid)
	sim.NewCases = append([]int(nil), cp.History.NewCases...)
	sim.Day4Counts = append([]int(nil), cp.History.Day4Counts...)
	sim.TotalContacts = append([]int(nil), cp.History.TotalContacts...)
	sim.Census = nil
	for _, c := range cp.History.Census {
		sim.Census = append(sim.Census, engine.Census(c))
	}

	if err := sim.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("restored state: %w", err)
	}
	return sim, nil
}

func restoreAgent(av AgentV1) (*agents.Agent, error) {
	health, err := agents.ParseHealth(av.Health)
	if err != nil {
		return nil, fmt.Errorf("agent %d: %w", av.ID, err)
	}
	loc, err := agents.ParseLocation(av.Location)
	if err != nil {
		return nil, fmt.Errorf("agent %d: %w", av.ID, err)
	}
	a := &agents.Agent{
		ID:           agents.AgentID(av.ID),
		Name:         av.Name,
		Age:          av.Age,
		Traits:       av.Traits,
		Health:       health,
		DayInfected:  av.DayInfected,
		Location:     loc,
		Position:     world.Coord{X: av.PosX, Y: av.PosY},
		Interactions: uintToIDs(av.Interactions),
	}
	for _, mv := range av.Memories {
		mh, err := agents.ParseHealth(mv.Health)
		if err != nil {
			return nil, fmt.Errorf("agent %d day %d: %w", av.ID, mv.Day, err)
		}
		ml, err := agents.ParseLocation(mv.Location)
		if err != nil {
			return nil, fmt.Errorf("agent %d day %d: %w", av.ID, mv.Day, err)
		}
		agents.AddMemory(a, agents.Memory{
			Day:             mv.Day,
			Health:          mh,
			Rationale:       mv.Rationale,
			Response:        mv.Response,
			HealthNarrative: mv.HealthNarrative,
			Location:        ml,
			StayHome:        mv.StayHome,
		})
	}
	return a, nil
}

// Encode writes cp as a zstd stream holding a JSON header line followed by
// the deterministic CBOR body. The header's version, size and digest are
// set from the body.
func Encode(w io.Writer, cp CheckpointV1) error {
	body, err := encMode.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}
	sum := blake3.Sum256(body)

	h := cp.Header
	h.Version = Version
	h.BodySize = len(body)
	h.Digest = hex.EncodeToString(sum[:])
	hb, err := json.Marshal(h)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(body); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Decode reads a checkpoint written by Encode and verifies its digest.
func Decode(r io.Reader) (CheckpointV1, error) {
	var cp CheckpointV1

	dec, err := zstd.NewReader(r)
	if err != nil {
		return cp, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	h, err := readHeader(br)
	if err != nil {
		return cp, err
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return cp, fmt.Errorf("read body: %w", err)
	}
	sum := blake3.Sum256(body)
	if len(body) != h.BodySize || hex.EncodeToString(sum[:]) != h.Digest {
		return cp, ErrDigestMismatch
	}

	if err := decMode.Unmarshal(body, &cp); err != nil {
		return cp, fmt.Errorf("cbor decode: %w", err)
	}
	cp.Header = h
	return cp, nil
}

// DecodeHeader reads only the header line of a checkpoint.
func DecodeHeader(r io.Reader) (Header, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

func idsToUint(ids []agents.AgentID) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func uintToIDs(ids []uint64) []agents.AgentID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]agents.AgentID, len(ids))
	for i, id := range ids {
		out[i] = agents.AgentID(id)
	}
	return out
}
