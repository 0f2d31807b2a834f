package agents

import "testing"

func intPtr(v int) *int { return &v }

func TestAdvanceHealthPendingBecomesInfected(t *testing.T) {
	a := &Agent{Name: "Ann", Health: PendingInfection}
	ch := AdvanceHealth(a, DefaultHealingThreshold)

	if !ch.NewCase || ch.Recovered {
		t.Fatalf("change = %+v, want NewCase only", ch)
	}
	if a.Health != Infected {
		t.Errorf("health = %v, want Infected", a.Health)
	}
	if a.DaysInfected() != 1 {
		t.Errorf("day infected = %d, want 1", a.DaysInfected())
	}
}

func TestAdvanceHealthInfectedIncrements(t *testing.T) {
	a := &Agent{Health: Infected, DayInfected: intPtr(3)}
	ch := AdvanceHealth(a, DefaultHealingThreshold)
	if ch.NewCase || ch.Recovered {
		t.Fatalf("change = %+v, want none", ch)
	}
	if a.DaysInfected() != 4 {
		t.Errorf("day infected = %d, want 4", a.DaysInfected())
	}
}

func TestAdvanceHealthRecoversOnceAndStays(t *testing.T) {
	a := &Agent{Health: Infected, DayInfected: intPtr(7)}

	ch := AdvanceHealth(a, 6)
	if !ch.Recovered {
		t.Fatalf("change = %+v, want Recovered", ch)
	}
	if a.Health != Recovered {
		t.Fatalf("health = %v, want Recovered", a.Health)
	}
	if a.DayInfected != nil {
		t.Errorf("day infected = %d, want undefined", *a.DayInfected)
	}

	for i := 0; i < 10; i++ {
		ch := AdvanceHealth(a, 6)
		if ch.Recovered || ch.NewCase {
			t.Fatalf("tick %d: change = %+v, recovered agents must not transition", i, ch)
		}
		if a.Health != Recovered || a.DayInfected != nil {
			t.Fatalf("tick %d: agent left Recovered: %v", i, a.Health)
		}
	}
}

func TestAdvanceHealthFullCourse(t *testing.T) {
	a := &Agent{Health: PendingInfection}
	days := 0
	for a.Health != Recovered {
		AdvanceHealth(a, DefaultHealingThreshold)
		days++
		if days > 20 {
			t.Fatal("agent never recovered")
		}
	}
	// Six infected days, recovery on the seventh update.
	if days != DefaultHealingThreshold+1 {
		t.Errorf("recovered after %d updates, want %d", days, DefaultHealingThreshold+1)
	}
}

func TestAdvanceHealthSusceptibleUnchanged(t *testing.T) {
	a := &Agent{Health: Susceptible}
	ch := AdvanceHealth(a, DefaultHealingThreshold)
	if ch != (HealthChange{}) || a.Health != Susceptible || a.DayInfected != nil {
		t.Errorf("susceptible agent changed: %+v %v", ch, a.Health)
	}
}

func TestHealthNarrative(t *testing.T) {
	tests := []struct {
		health Health
		day    *int
		want   string
	}{
		{Susceptible, nil, "Ann feels normal."},
		{Recovered, nil, "Ann feels normal."},
		{PendingInfection, nil, "Ann feels normal."},
		{Infected, intPtr(1), "Ann feels normal."},
		{Infected, intPtr(2), "Ann feels normal."},
		{Infected, intPtr(3), "Ann has a light cough."},
		{Infected, intPtr(4), "Ann has a fever and a cough."},
		{Infected, intPtr(5), "Ann has a fever and a cough."},
		{Infected, intPtr(6), "Ann has a light cough."},
	}
	for _, tt := range tests {
		a := &Agent{Name: "Ann", Health: tt.health, DayInfected: tt.day}
		if got := HealthNarrative(a); got != tt.want {
			t.Errorf("HealthNarrative(%v, day %d) = %q, want %q", tt.health, a.DaysInfected(), got, tt.want)
		}
	}
}

func TestParseHealthRoundTrip(t *testing.T) {
	for h := Susceptible; h <= Recovered; h++ {
		got, err := ParseHealth(h.String())
		if err != nil || got != h {
			t.Errorf("ParseHealth(%q) = %v, %v", h.String(), got, err)
		}
	}
	if _, err := ParseHealth("To_Be_Infected"); err == nil {
		t.Error("ParseHealth should reject unknown states")
	}
}
