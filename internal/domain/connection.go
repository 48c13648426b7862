package domain

import "strings"

// ConnectionStatus is the lifecycle state of a master-member relationship
type ConnectionStatus int

const (
	StatusNotConnected ConnectionStatus = iota
	StatusPending
	StatusConnected
	StatusPaused
	StatusDisconnected
	StatusBlocked
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusNotConnected:
		return "NotConnected"
	case StatusPending:
		return "Pending"
	case StatusConnected:
		return "Connected"
	case StatusPaused:
		return "Paused"
	case StatusDisconnected:
		return "Disconnected"
	case StatusBlocked:
		return "Blocked"
	default:
		return "Unknown"
	}
}

// ParseConnectionStatus maps remote status strings onto ConnectionStatus.
// Matching ignores case and separators ("not_connected", "NOT-CONNECTED").
func ParseConnectionStatus(s string) (ConnectionStatus, bool) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	switch norm {
	case "notconnected", "":
		return StatusNotConnected, true
	case "pending":
		return StatusPending, true
	case "connected":
		return StatusConnected, true
	case "paused":
		return StatusPaused, true
	case "disconnected":
		return StatusDisconnected, true
	case "blocked":
		return StatusBlocked, true
	default:
		return StatusNotConnected, false
	}
}

// Connection is a copy-trading relationship between the master and one member.
// Owned by the remote system and mirrored locally; replace entries wholesale.
type Connection struct {
	MemberID       string           `json:"member_id"`
	MemberAddress  string           `json:"member_address"`
	Status         ConnectionStatus `json:"status"`
	JoinedGroupIDs []string         `json:"joined_group_ids"`
}

// Validate rejects mirrored connections missing identity fields.
func (c Connection) Validate() error {
	if c.MemberID == "" {
		return malformed("connection", "member id")
	}
	if c.MemberAddress == "" {
		return malformed("connection "+c.MemberID, "member address")
	}
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c Connection) Clone() Connection {
	out := c
	out.JoinedGroupIDs = append([]string(nil), c.JoinedGroupIDs...)
	return out
}

// Group is a named set of members. Only enabled groups take part in selection.
type Group struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}
