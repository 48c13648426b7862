package selection

import (
	"errors"
	"reflect"
	"testing"

	"copytrade_go/internal/domain"
)

func conn(id string, status domain.ConnectionStatus, groups ...string) domain.Connection {
	return domain.Connection{
		MemberID:       id,
		MemberAddress:  "addr-" + id,
		Status:         status,
		JoinedGroupIDs: groups,
	}
}

// scenario builds groups A (m1, m2) and B (m2), both enabled.
func scenario() *Synchronizer {
	s := NewSynchronizer()
	s.UpdateMembership(
		[]domain.Connection{
			conn("m1", domain.StatusConnected, "A"),
			conn("m2", domain.StatusConnected, "A", "B"),
		},
		[]domain.Group{{ID: "A", Enabled: true}, {ID: "B", Enabled: true}},
	)
	return s
}

func assertSelection(t *testing.T, got Selection, groups, conns []string) {
	t.Helper()
	if groups == nil {
		groups = []string{}
	}
	if conns == nil {
		conns = []string{}
	}
	if !reflect.DeepEqual(got.GroupIDs, groups) {
		t.Errorf("GroupIDs = %v, want %v", got.GroupIDs, groups)
	}
	if !reflect.DeepEqual(got.ConnectionIDs, conns) {
		t.Errorf("ConnectionIDs = %v, want %v", got.ConnectionIDs, conns)
	}
}

func TestSynchronizer_GroupThenToggle(t *testing.T) {
	s := scenario()

	sel := s.SetSelectedGroups([]string{"A"})
	assertSelection(t, sel, []string{"A"}, []string{"m1", "m2"})

	sel, err := s.ToggleConnection("m2")
	if err != nil {
		t.Fatalf("ToggleConnection() error = %v", err)
	}
	assertSelection(t, sel, []string{"A"}, []string{"m1"})
}

func TestSynchronizer_SetSelectedGroups(t *testing.T) {
	s := NewSynchronizer()
	s.UpdateMembership(
		[]domain.Connection{
			conn("m1", domain.StatusConnected, "A"),
			conn("m2", domain.StatusPaused, "A"),
			conn("m3", domain.StatusConnected, "C"),
			conn("m4", domain.StatusConnected),
		},
		[]domain.Group{{ID: "A", Enabled: true}, {ID: "C", Enabled: false}},
	)

	tests := []struct {
		name   string
		ids    []string
		groups []string
		conns  []string
	}{
		{"enabled group selects connected members only", []string{"A"}, []string{"A"}, []string{"m1"}},
		{"disabled group is ignored", []string{"C"}, nil, nil},
		{"unknown group is ignored", []string{"Z"}, nil, nil},
		{"empty selects nothing", nil, nil, nil},
		{"mixed", []string{"A", "C", "Z"}, []string{"A"}, []string{"m1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSelection(t, s.SetSelectedGroups(tt.ids), tt.groups, tt.conns)
		})
	}
}

func TestSynchronizer_SelectionConsistency(t *testing.T) {
	s := NewSynchronizer()
	s.UpdateMembership(
		[]domain.Connection{
			conn("m1", domain.StatusConnected, "A"),
			conn("m2", domain.StatusBlocked, "A", "B"),
			conn("m3", domain.StatusConnected, "B"),
			conn("m4", domain.StatusPending, "B"),
		},
		[]domain.Group{{ID: "A", Enabled: true}, {ID: "B", Enabled: true}},
	)

	sel := s.SetSelectedGroups([]string{"A", "B"})
	byID := map[string]domain.Connection{}
	for _, c := range s.Connections() {
		byID[c.MemberID] = c
	}
	for _, id := range sel.ConnectionIDs {
		c := byID[id]
		if c.Status != domain.StatusConnected {
			t.Errorf("selected %s has status %s", id, c.Status)
		}
	}
	assertSelection(t, sel, []string{"A", "B"}, []string{"m1", "m3"})
}

func TestSynchronizer_ToggleTwiceRestores(t *testing.T) {
	s := scenario()
	s.SetSelectedConnections([]string{"m1"})
	before := s.Selection()

	if _, err := s.ToggleConnection("m2"); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	mid := s.Selection()
	assertSelection(t, mid, []string{"A", "B"}, []string{"m1", "m2"})

	after, err := s.ToggleConnection("m2")
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("toggle twice = %+v, want %+v", after, before)
	}
}

func TestSynchronizer_ToggleErrors(t *testing.T) {
	s := NewSynchronizer()
	s.UpdateMembership(
		[]domain.Connection{
			conn("m1", domain.StatusConnected, "A"),
			conn("m2", domain.StatusPaused, "A"),
		},
		[]domain.Group{{ID: "A", Enabled: true}},
	)
	s.SetSelectedConnections([]string{"m1"})

	t.Run("unknown member", func(t *testing.T) {
		sel, err := s.ToggleConnection("ghost")
		if !errors.Is(err, domain.ErrUnknownMember) {
			t.Errorf("error = %v, want ErrUnknownMember", err)
		}
		assertSelection(t, sel, []string{"A"}, []string{"m1"})
	})

	t.Run("not connected", func(t *testing.T) {
		sel, err := s.ToggleConnection("m2")
		if !errors.Is(err, domain.ErrMemberNotConnected) {
			t.Errorf("error = %v, want ErrMemberNotConnected", err)
		}
		assertSelection(t, sel, []string{"A"}, []string{"m1"})
	})
}

func TestSynchronizer_SetSelectedConnections(t *testing.T) {
	s := NewSynchronizer()
	s.UpdateMembership(
		[]domain.Connection{
			conn("m1", domain.StatusConnected, "A", "D"),
			conn("m2", domain.StatusDisconnected, "B"),
			conn("m3", domain.StatusConnected, "B"),
		},
		[]domain.Group{{ID: "A", Enabled: true}, {ID: "B", Enabled: true}, {ID: "D", Enabled: false}},
	)

	sel := s.SetSelectedConnections([]string{"m1", "m2", "m3", "ghost"})
	assertSelection(t, sel, []string{"A", "B"}, []string{"m1", "m3"})
}

func TestSynchronizer_StatusChangePrunes(t *testing.T) {
	s := scenario()
	s.SetSelectedGroups([]string{"A"})

	paused := conn("m2", domain.StatusPaused, "A", "B")
	sel := s.UpdateConnection(paused)

	// Pruning never recomputes groups.
	assertSelection(t, sel, []string{"A"}, []string{"m1"})
}

func TestSynchronizer_MembershipRefreshPrunes(t *testing.T) {
	s := scenario()
	s.SetSelectedGroups([]string{"A", "B"})

	sel := s.UpdateMembership(
		[]domain.Connection{
			conn("m1", domain.StatusConnected, "A"),
			conn("m2", domain.StatusBlocked, "A", "B"),
		},
		[]domain.Group{{ID: "A", Enabled: true}, {ID: "B", Enabled: false}},
	)
	assertSelection(t, sel, []string{"A"}, []string{"m1"})
}

func TestSynchronizer_MalformedConnectionSkipped(t *testing.T) {
	s := NewSynchronizer()
	s.UpdateMembership(
		[]domain.Connection{
			{MemberID: "m1", Status: domain.StatusConnected},
			conn("m2", domain.StatusConnected, "A"),
		},
		[]domain.Group{{ID: "A", Enabled: true}},
	)

	if n := len(s.Connections()); n != 1 {
		t.Fatalf("Connections() len = %d, want 1", n)
	}
	if _, err := s.ToggleConnection("m1"); !errors.Is(err, domain.ErrUnknownMember) {
		t.Errorf("error = %v, want ErrUnknownMember", err)
	}
}

func TestSynchronizer_ClearIfUnchanged(t *testing.T) {
	t.Run("unchanged selection is cleared", func(t *testing.T) {
		s := scenario()
		prev := s.SetSelectedGroups([]string{"A"})

		if !s.ClearIfUnchanged(prev) {
			t.Fatal("ClearIfUnchanged() = false, want true")
		}
		if sel := s.Selection(); !sel.Empty() {
			t.Errorf("Selection() after clear = %+v", sel)
		}
	})

	t.Run("changed selection is kept", func(t *testing.T) {
		s := scenario()
		prev := s.SetSelectedGroups([]string{"A"})
		s.SetSelectedGroups([]string{"B"})

		if s.ClearIfUnchanged(prev) {
			t.Fatal("ClearIfUnchanged() = true, want false")
		}
		assertSelection(t, s.Selection(), []string{"B"}, []string{"m2"})
	})
}
