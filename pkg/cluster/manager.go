package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"camcoord/pkg/metrics"
)

// ErrNotLeader is returned by the leadership gate when this node cannot
// mutate lease state right now.
var ErrNotLeader = errors.New("not the cluster leader")

// Config holds the identity and timing parameters of one cluster node.
type Config struct {
	NodeID   string
	NodeAddr string
	// Peers lists the other coordinators' advertised addresses. Empty
	// means single-node operation: the node elects itself immediately.
	Peers []string

	// ElectionTimeout is the base wait without a heartbeat before a
	// follower starts an election. The actual wait adds up to one full
	// timeout of jitter so peers never fire in lockstep.
	ElectionTimeout time.Duration

	// HeartbeatInterval must be well below every peer's ElectionTimeout.
	HeartbeatInterval time.Duration

	// PeerTimeout bounds each vote/heartbeat RPC. A timed-out peer is
	// unreachable for that round only, never removed from membership.
	PeerTimeout time.Duration
}

// Validate applies defaults and rejects timing combinations that would make
// elections flap.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("cluster node id is required")
	}
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = 1500 * time.Millisecond
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 500 * time.Millisecond
	}
	if c.PeerTimeout == 0 {
		c.PeerTimeout = c.HeartbeatInterval
	}
	if c.HeartbeatInterval >= c.ElectionTimeout {
		return fmt.Errorf("heartbeat interval %s must be below election timeout %s",
			c.HeartbeatInterval, c.ElectionTimeout)
	}
	return nil
}

// Manager runs the Follower/Candidate/Leader state machine for one node.
//
// All role/term fields are mutated only under mu, so concurrent election
// triggers and heartbeat receipts apply one at a time; a node can never
// believe it is Candidate and Leader at once. The API's leadership check
// takes a cheap read lock.
type Manager struct {
	cfg       Config
	transport Transport
	logger    *zap.Logger

	mu            sync.RWMutex
	role          Role
	currentTerm   uint64
	votedFor      string
	votedTerm     uint64
	leaderID      string
	leaderAddr    string
	lastHeartbeat time.Time

	rng *rand.Rand
}

// NewManager builds a manager in the Follower role.
func NewManager(cfg Config, transport Transport, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:           cfg,
		transport:     transport,
		logger:        logger.With(zap.String("node_id", cfg.NodeID)),
		role:          RoleFollower,
		lastHeartbeat: time.Now(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run starts the election monitor and heartbeat sender. Both stop when ctx
// is cancelled.
func (m *Manager) Run(ctx context.Context) {
	go m.runElectionMonitor(ctx)
	go m.runHeartbeatSender(ctx)
}

// IsLeader is the leadership gate consulted before every lease mutation.
func (m *Manager) IsLeader() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role == RoleLeader
}

// Leader returns the identity of the node currently believed to lead.
func (m *Manager) Leader() (id, addr string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaderID, m.leaderAddr
}

// Term returns the current election term.
func (m *Manager) Term() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTerm
}

// Status snapshots the manager state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		NodeID:        m.cfg.NodeID,
		NodeAddr:      m.cfg.NodeAddr,
		Role:          m.role.String(),
		Term:          m.currentTerm,
		LeaderID:      m.leaderID,
		LeaderAddr:    m.leaderAddr,
		Peers:         append([]string(nil), m.cfg.Peers...),
		LastHeartbeat: m.lastHeartbeat,
	}
}

// HandleVoteRequest is the receiving side of an election. A vote is granted
// when the candidate's term is strictly ahead of ours, or on an equal-term
// retry from the candidate we already voted for.
func (m *Manager) HandleVoteRequest(req VoteRequest) VoteResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Term < m.currentTerm {
		return VoteResponse{Term: m.currentTerm, VoteGranted: false, VoterID: m.cfg.NodeID}
	}

	if req.Term > m.currentTerm {
		m.adoptTermLocked(req.Term)
		m.votedFor = req.CandidateID
		m.votedTerm = req.Term
		// Granting a vote counts as cluster activity; resetting the
		// timer keeps this node from racing the candidate.
		m.lastHeartbeat = time.Now()
		m.logger.Info("vote granted",
			zap.String("candidate", req.CandidateID), zap.Uint64("term", req.Term))
		return VoteResponse{Term: m.currentTerm, VoteGranted: true, VoterID: m.cfg.NodeID}
	}

	// Equal term: only repeat requests from our chosen candidate succeed.
	granted := m.votedTerm == req.Term && m.votedFor == req.CandidateID
	return VoteResponse{Term: m.currentTerm, VoteGranted: granted, VoterID: m.cfg.NodeID}
}

// HandleHeartbeat is the receiving side of leader liveness. Any term at or
// above ours resets the election timer and adopts the sender as leader.
func (m *Manager) HandleHeartbeat(req HeartbeatRequest) HeartbeatResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Term < m.currentTerm {
		return HeartbeatResponse{Term: m.currentTerm, Ok: false}
	}

	if req.Term > m.currentTerm || m.role != RoleFollower {
		m.adoptTermLocked(req.Term)
	}
	m.currentTerm = req.Term
	m.leaderID = req.LeaderID
	m.leaderAddr = req.LeaderAddr
	m.lastHeartbeat = time.Now()
	return HeartbeatResponse{Term: m.currentTerm, Ok: true}
}

// runElectionMonitor wakes on a randomized timer and starts an election
// when no heartbeat arrived within the base timeout. The jitter (up to one
// extra timeout) is what prevents synchronized elections and repeated split
// votes; it is a correctness requirement, not tuning.
func (m *Manager) runElectionMonitor(ctx context.Context) {
	for {
		jitter := time.Duration(m.rng.Int63n(int64(m.cfg.ElectionTimeout)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ElectionTimeout + jitter):
		}

		m.mu.RLock()
		role := m.role
		silence := time.Since(m.lastHeartbeat)
		m.mu.RUnlock()

		if role == RoleLeader || silence < m.cfg.ElectionTimeout {
			continue
		}
		m.runElection(ctx)
	}
}

// runElection moves to Candidate, bumps the term and solicits votes from
// all peers concurrently. Majority is computed over the full cluster (self
// included), so a minority partition can never elect.
func (m *Manager) runElection(ctx context.Context) {
	m.mu.Lock()
	if m.role == RoleLeader {
		m.mu.Unlock()
		return
	}
	m.role = RoleCandidate
	m.currentTerm++
	term := m.currentTerm
	m.votedFor = m.cfg.NodeID
	m.votedTerm = term
	m.leaderID = ""
	m.leaderAddr = ""
	peers := append([]string(nil), m.cfg.Peers...)
	m.mu.Unlock()

	metrics.ElectionsStarted.Inc()
	m.logger.Info("election started", zap.Uint64("term", term), zap.Int("peers", len(peers)))

	needed := (len(peers)+1)/2 + 1
	votes := 1 // self

	if votes >= needed {
		m.becomeLeader(ctx, term)
		return
	}

	results := make(chan *VoteResponse, len(peers))
	req := VoteRequest{Term: term, CandidateID: m.cfg.NodeID, CandidateAddr: m.cfg.NodeAddr}
	for _, peer := range peers {
		go func(peer string) {
			rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.PeerTimeout)
			defer cancel()
			resp, err := m.transport.RequestVote(rpcCtx, peer, req)
			if err != nil {
				// Unreachable for this round only.
				m.logger.Debug("vote request failed", zap.String("peer", peer), zap.Error(err))
				results <- nil
				return
			}
			results <- resp
		}(peer)
	}

	for i := 0; i < len(peers); i++ {
		select {
		case <-ctx.Done():
			return
		case resp := <-results:
			if resp == nil {
				continue
			}
			if resp.Term > term {
				m.stepDown(resp.Term)
				return
			}
			if resp.VoteGranted {
				votes++
				if votes >= needed {
					m.becomeLeader(ctx, term)
					return
				}
			}
		}
	}

	// No majority. Stay candidate; the monitor retries after a fresh
	// randomized wait, which doubles as split-vote backoff.
	m.logger.Info("election lost", zap.Uint64("term", term),
		zap.Int("votes", votes), zap.Int("needed", needed))
}

// becomeLeader finishes the election iff we are still the candidate of that
// term, then asserts leadership immediately.
func (m *Manager) becomeLeader(ctx context.Context, term uint64) {
	m.mu.Lock()
	if m.role != RoleCandidate || m.currentTerm != term {
		m.mu.Unlock()
		return
	}
	m.role = RoleLeader
	m.leaderID = m.cfg.NodeID
	m.leaderAddr = m.cfg.NodeAddr
	m.mu.Unlock()

	metrics.ElectionsWon.Inc()
	metrics.SetClusterRole(RoleLeader.String())
	metrics.ClusterTerm.Set(float64(term))
	m.logger.Info("leadership acquired", zap.Uint64("term", term))

	m.broadcastHeartbeats(ctx)
}

// stepDown reverts to Follower, adopting the higher term it observed.
func (m *Manager) stepDown(term uint64) {
	m.mu.Lock()
	m.adoptTermLocked(term)
	m.lastHeartbeat = time.Now()
	m.mu.Unlock()

	metrics.SetClusterRole(RoleFollower.String())
	metrics.ClusterTerm.Set(float64(term))
	m.logger.Info("stepping down", zap.Uint64("term", term))
}

// adoptTermLocked moves to Follower in the given term. Must hold mu.
func (m *Manager) adoptTermLocked(term uint64) {
	if term > m.currentTerm {
		m.currentTerm = term
		m.votedFor = ""
		m.votedTerm = 0
	}
	m.role = RoleFollower
}

// runHeartbeatSender asserts leadership on a fixed interval. On any other
// role the tick is a no-op check.
func (m *Manager) runHeartbeatSender(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.IsLeader() {
				m.broadcastHeartbeats(ctx)
			}
		}
	}
}

// broadcastHeartbeats fans out to all peers concurrently; a slow peer costs
// at most PeerTimeout and never blocks the others.
func (m *Manager) broadcastHeartbeats(ctx context.Context) {
	m.mu.RLock()
	if m.role != RoleLeader {
		m.mu.RUnlock()
		return
	}
	term := m.currentTerm
	peers := append([]string(nil), m.cfg.Peers...)
	m.mu.RUnlock()

	req := HeartbeatRequest{Term: term, LeaderID: m.cfg.NodeID, LeaderAddr: m.cfg.NodeAddr}
	for _, peer := range peers {
		go func(peer string) {
			rpcCtx, cancel := context.WithTimeout(ctx, m.cfg.PeerTimeout)
			defer cancel()
			resp, err := m.transport.SendHeartbeat(rpcCtx, peer, req)
			if err != nil {
				metrics.HeartbeatFailures.Inc()
				m.logger.Debug("heartbeat failed", zap.String("peer", peer), zap.Error(err))
				return
			}
			metrics.HeartbeatsSent.Inc()
			if resp.Term > term {
				m.stepDown(resp.Term)
			}
		}(peer)
	}
}
