package selection

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"copytrade_go/internal/domain"
)

// Selection is a point-in-time copy of the selected group and connection ids, sorted.
type Selection struct {
	GroupIDs      []string
	ConnectionIDs []string
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool {
	return len(s.GroupIDs) == 0 && len(s.ConnectionIDs) == 0
}

// Synchronizer keeps the selected groups and selected connections consistent
// over the mirrored membership graph.
//
// Group-driven operations recompute connections; connection-driven operations
// recompute groups. Nothing updates both from a third source, so the two
// recompute rules never feed into each other.
type Synchronizer struct {
	mu          sync.RWMutex
	connections map[string]domain.Connection
	order       []string
	groups      map[string]domain.Group

	// Replaced wholesale on every mutation, never edited in place.
	selectedGroups      mapset.Set[string]
	selectedConnections mapset.Set[string]

	logger *slog.Logger
}

// NewSynchronizer creates an empty synchronizer. Call UpdateMembership to load the graph.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		connections:         make(map[string]domain.Connection),
		groups:              make(map[string]domain.Group),
		selectedGroups:      mapset.NewThreadUnsafeSet[string](),
		selectedConnections: mapset.NewThreadUnsafeSet[string](),
		logger:              slog.Default().With("module", "selection"),
	}
}

// UpdateMembership replaces the mirrored connections and groups. Selected ids
// that no longer refer to a Connected member or an enabled group are dropped;
// nothing is recomputed in either direction.
func (s *Synchronizer) UpdateMembership(conns []domain.Connection, groups []domain.Group) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = make(map[string]domain.Connection, len(conns))
	s.order = s.order[:0]
	for _, c := range conns {
		if err := c.Validate(); err != nil {
			s.logger.Warn("Skipping malformed connection", slog.Any("error", err))
			continue
		}
		if _, dup := s.connections[c.MemberID]; !dup {
			s.order = append(s.order, c.MemberID)
		}
		s.connections[c.MemberID] = c.Clone()
	}

	s.groups = make(map[string]domain.Group, len(groups))
	for _, g := range groups {
		if g.ID == "" {
			continue
		}
		s.groups[g.ID] = g
	}

	s.pruneLocked()
	return s.snapshotLocked()
}

// UpdateConnection replaces one mirrored connection, e.g. after a lifecycle
// transition. A member that leaves Connected is dropped from the selection.
func (s *Synchronizer) UpdateConnection(c domain.Connection) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[c.MemberID]; !ok {
		s.order = append(s.order, c.MemberID)
	}
	s.connections[c.MemberID] = c.Clone()

	s.pruneLocked()
	return s.snapshotLocked()
}

// SetSelectedGroups selects the enabled groups among ids and recomputes the
// selected connections as every Connected member that joined one of them.
// An empty ids selects nothing.
func (s *Synchronizer) SetSelectedGroups(ids []string) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := mapset.NewThreadUnsafeSet[string]()
	for _, id := range ids {
		if g, ok := s.groups[id]; ok && g.Enabled {
			groups.Add(id)
		}
	}

	s.selectedGroups = groups
	s.selectedConnections = s.connectionsForGroupsLocked(groups)
	return s.snapshotLocked()
}

// ToggleConnection flips one member in the selected connections and recomputes
// the selected groups from the result. Selecting a member that is not
// Connected fails with ErrMemberNotConnected and changes nothing.
func (s *Synchronizer) ToggleConnection(memberID string) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[memberID]
	if !ok {
		return s.snapshotLocked(), fmt.Errorf("toggle %s: %w", memberID, domain.ErrUnknownMember)
	}

	conns := s.selectedConnections.Clone()
	if conns.Contains(memberID) {
		conns.Remove(memberID)
	} else {
		if c.Status != domain.StatusConnected {
			return s.snapshotLocked(), fmt.Errorf("toggle %s (%s): %w", memberID, c.Status, domain.ErrMemberNotConnected)
		}
		conns.Add(memberID)
	}

	s.selectedConnections = s.connectedOnlyLocked(conns)
	s.selectedGroups = s.groupsForConnectionsLocked(s.selectedConnections)
	return s.snapshotLocked(), nil
}

// SetSelectedConnections assigns the selected connections in bulk and
// recomputes the selected groups. Unknown and non-Connected ids are ignored.
func (s *Synchronizer) SetSelectedConnections(ids []string) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selectedConnections = s.connectedOnlyLocked(mapset.NewThreadUnsafeSet(ids...))
	s.selectedGroups = s.groupsForConnectionsLocked(s.selectedConnections)
	return s.snapshotLocked()
}

// ClearIfUnchanged empties both selections only when they still equal prev.
// A selection changed since prev was taken is kept.
func (s *Synchronizer) ClearIfUnchanged(prev Selection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshotLocked()
	if !slices.Equal(cur.GroupIDs, prev.GroupIDs) || !slices.Equal(cur.ConnectionIDs, prev.ConnectionIDs) {
		s.logger.Debug("Selection changed since it was consumed, keeping it")
		return false
	}
	s.selectedGroups = mapset.NewThreadUnsafeSet[string]()
	s.selectedConnections = mapset.NewThreadUnsafeSet[string]()
	return true
}

// Selection returns the current selection.
func (s *Synchronizer) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Connections returns the mirrored connections in the order they were loaded.
func (s *Synchronizer) Connections() []domain.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Connection, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.connections[id].Clone())
	}
	return out
}

func (s *Synchronizer) connectionsForGroupsLocked(groups mapset.Set[string]) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	if groups.Cardinality() == 0 {
		return out
	}
	for _, id := range s.order {
		c := s.connections[id]
		if c.Status != domain.StatusConnected {
			continue
		}
		for _, g := range c.JoinedGroupIDs {
			if groups.Contains(g) {
				out.Add(id)
				break
			}
		}
	}
	return out
}

func (s *Synchronizer) groupsForConnectionsLocked(conns mapset.Set[string]) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	conns.Each(func(id string) bool {
		for _, g := range s.connections[id].JoinedGroupIDs {
			if grp, ok := s.groups[g]; ok && grp.Enabled {
				out.Add(g)
			}
		}
		return false
	})
	return out
}

func (s *Synchronizer) connectedOnlyLocked(ids mapset.Set[string]) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	ids.Each(func(id string) bool {
		if c, ok := s.connections[id]; ok && c.Status == domain.StatusConnected {
			out.Add(id)
		}
		return false
	})
	return out
}

// pruneLocked drops selected ids that became invalid without recomputing.
func (s *Synchronizer) pruneLocked() {
	s.selectedConnections = s.connectedOnlyLocked(s.selectedConnections)

	groups := mapset.NewThreadUnsafeSet[string]()
	s.selectedGroups.Each(func(id string) bool {
		if g, ok := s.groups[id]; ok && g.Enabled {
			groups.Add(id)
		}
		return false
	})
	s.selectedGroups = groups
}

func (s *Synchronizer) snapshotLocked() Selection {
	groups := s.selectedGroups.ToSlice()
	conns := s.selectedConnections.ToSlice()
	slices.Sort(groups)
	slices.Sort(conns)
	return Selection{GroupIDs: groups, ConnectionIDs: conns}
}
