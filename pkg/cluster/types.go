package cluster

import "time"

// Role is this node's position in the election state machine.
type Role int32

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// VoteRequest asks a peer for its vote in the candidate's term.
type VoteRequest struct {
	Term          uint64 `json:"term"`
	CandidateID   string `json:"candidate_id"`
	CandidateAddr string `json:"candidate_addr"`
}

// VoteResponse carries the peer's term and whether it voted for us.
type VoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
	VoterID     string `json:"voter_id"`
}

// HeartbeatRequest asserts leadership for a term.
type HeartbeatRequest struct {
	Term       uint64 `json:"term"`
	LeaderID   string `json:"leader_id"`
	LeaderAddr string `json:"leader_addr"`
}

// HeartbeatResponse acknowledges the heartbeat, or reports a higher term
// that should make the sender step down.
type HeartbeatResponse struct {
	Term uint64 `json:"term"`
	Ok   bool   `json:"ok"`
}

// Status is a point-in-time snapshot of the manager's state, for the
// cluster status endpoint and tests.
type Status struct {
	NodeID        string    `json:"node_id"`
	NodeAddr      string    `json:"node_addr"`
	Role          string    `json:"role"`
	Term          uint64    `json:"term"`
	LeaderID      string    `json:"leader_id,omitempty"`
	LeaderAddr    string    `json:"leader_addr,omitempty"`
	Peers         []string  `json:"peers"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
