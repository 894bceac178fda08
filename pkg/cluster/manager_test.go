package cluster_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"camcoord/pkg/cluster"
)

// fakeNetwork delivers election RPCs in process. Isolating an address cuts
// traffic in both directions, like yanking the node's cable.
type fakeNetwork struct {
	mu       sync.Mutex
	nodes    map[string]*cluster.Manager
	isolated map[string]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		nodes:    make(map[string]*cluster.Manager),
		isolated: make(map[string]bool),
	}
}

func (n *fakeNetwork) register(addr string, m *cluster.Manager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[addr] = m
}

func (n *fakeNetwork) isolate(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[addr] = true
}

func (n *fakeNetwork) deliverable(from, to string) (*cluster.Manager, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.isolated[from] || n.isolated[to] {
		return nil, errors.New("partitioned")
	}
	m, ok := n.nodes[to]
	if !ok {
		return nil, errors.New("peer unreachable")
	}
	return m, nil
}

// nodeTransport is one node's view of the fake network.
type nodeTransport struct {
	net  *fakeNetwork
	self string
}

func (t *nodeTransport) RequestVote(ctx context.Context, peerAddr string, req cluster.VoteRequest) (*cluster.VoteResponse, error) {
	m, err := t.net.deliverable(t.self, peerAddr)
	if err != nil {
		return nil, err
	}
	resp := m.HandleVoteRequest(req)
	return &resp, nil
}

func (t *nodeTransport) SendHeartbeat(ctx context.Context, peerAddr string, req cluster.HeartbeatRequest) (*cluster.HeartbeatResponse, error) {
	m, err := t.net.deliverable(t.self, peerAddr)
	if err != nil {
		return nil, err
	}
	resp := m.HandleHeartbeat(req)
	return &resp, nil
}

func testConfig(id string, addrs []string, self int) cluster.Config {
	peers := make([]string, 0, len(addrs)-1)
	for i, a := range addrs {
		if i != self {
			peers = append(peers, a)
		}
	}
	return cluster.Config{
		NodeID:            id,
		NodeAddr:          addrs[self],
		Peers:             peers,
		ElectionTimeout:   100 * time.Millisecond,
		HeartbeatInterval: 30 * time.Millisecond,
		PeerTimeout:       50 * time.Millisecond,
	}
}

func startCluster(t *testing.T, ctx context.Context, n int) ([]*cluster.Manager, *fakeNetwork) {
	t.Helper()
	net := newFakeNetwork()

	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("node-%d:8080", i)
	}

	managers := make([]*cluster.Manager, n)
	for i := range managers {
		transport := &nodeTransport{net: net, self: addrs[i]}
		m, err := cluster.NewManager(testConfig(fmt.Sprintf("node-%d", i), addrs, i), transport, zap.NewNop())
		if err != nil {
			t.Fatalf("failed to build manager: %v", err)
		}
		net.register(addrs[i], m)
		managers[i] = m
	}
	for _, m := range managers {
		m.Run(ctx)
	}
	return managers, net
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func leaderCount(managers []*cluster.Manager) int {
	count := 0
	for _, m := range managers {
		if m.IsLeader() {
			count++
		}
	}
	return count
}

func TestSingleNode_ElectsItself(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managers, _ := startCluster(t, ctx, 1)

	if !waitFor(t, 2*time.Second, func() bool { return managers[0].IsLeader() }) {
		t.Fatal("single node never became leader")
	}
}

func TestThreeNodes_ExactlyOneLeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managers, _ := startCluster(t, ctx, 3)

	if !waitFor(t, 5*time.Second, func() bool { return leaderCount(managers) == 1 }) {
		t.Fatalf("expected exactly one leader, got %d", leaderCount(managers))
	}

	// The followers converge on the winner's identity.
	var leaderID string
	for _, m := range managers {
		if m.IsLeader() {
			leaderID = m.Status().NodeID
		}
	}
	ok := waitFor(t, 2*time.Second, func() bool {
		for _, m := range managers {
			if id, _ := m.Leader(); id != leaderID {
				return false
			}
		}
		return true
	})
	if !ok {
		t.Fatal("followers never converged on the leader identity")
	}
}

func TestLeaderFailure_TriggersReelection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managers, net := startCluster(t, ctx, 3)

	if !waitFor(t, 5*time.Second, func() bool { return leaderCount(managers) == 1 }) {
		t.Fatal("initial election never completed")
	}

	var oldLeader *cluster.Manager
	rest := make([]*cluster.Manager, 0, 2)
	for _, m := range managers {
		if m.IsLeader() {
			oldLeader = m
		} else {
			rest = append(rest, m)
		}
	}

	// Partition the leader away. The survivors still form a majority of
	// the full cluster and elect a replacement.
	net.isolate(oldLeader.Status().NodeAddr)

	if !waitFor(t, 5*time.Second, func() bool { return leaderCount(rest) == 1 }) {
		t.Fatal("survivors never elected a replacement leader")
	}
}

func TestMinorityPartition_CannotElect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two live nodes in a five-node membership: three peers are
	// permanently unreachable, so no candidate can assemble three votes.
	net := newFakeNetwork()
	addrs := []string{"node-0:8080", "node-1:8080", "node-2:8080", "node-3:8080", "node-4:8080"}

	managers := make([]*cluster.Manager, 2)
	for i := 0; i < 2; i++ {
		transport := &nodeTransport{net: net, self: addrs[i]}
		m, err := cluster.NewManager(testConfig(fmt.Sprintf("node-%d", i), addrs, i), transport, zap.NewNop())
		if err != nil {
			t.Fatalf("failed to build manager: %v", err)
		}
		net.register(addrs[i], m)
		managers[i] = m
	}
	for _, m := range managers {
		m.Run(ctx)
	}

	// Give the minority many election rounds to try.
	time.Sleep(1500 * time.Millisecond)
	if n := leaderCount(managers); n != 0 {
		t.Fatalf("minority partition elected %d leader(s)", n)
	}
}

func TestHandleVoteRequest_Semantics(t *testing.T) {
	m, err := cluster.NewManager(cluster.Config{
		NodeID:   "node-0",
		NodeAddr: "node-0:8080",
		Peers:    []string{"node-1:8080"},
	}, &nodeTransport{net: newFakeNetwork(), self: "node-0:8080"}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}

	// Higher term wins a vote.
	resp := m.HandleVoteRequest(cluster.VoteRequest{Term: 5, CandidateID: "node-1"})
	if !resp.VoteGranted || resp.Term != 5 {
		t.Fatalf("expected grant at term 5, got %+v", resp)
	}

	// Same-term retry from the same candidate is granted again.
	resp = m.HandleVoteRequest(cluster.VoteRequest{Term: 5, CandidateID: "node-1"})
	if !resp.VoteGranted {
		t.Fatalf("expected repeat grant, got %+v", resp)
	}

	// A different candidate in the same term is refused.
	resp = m.HandleVoteRequest(cluster.VoteRequest{Term: 5, CandidateID: "node-2"})
	if resp.VoteGranted {
		t.Fatalf("expected refusal for competing candidate, got %+v", resp)
	}

	// Stale terms never win.
	resp = m.HandleVoteRequest(cluster.VoteRequest{Term: 3, CandidateID: "node-3"})
	if resp.VoteGranted || resp.Term != 5 {
		t.Fatalf("expected stale-term refusal, got %+v", resp)
	}
}

func TestHandleHeartbeat_Semantics(t *testing.T) {
	m, err := cluster.NewManager(cluster.Config{
		NodeID:   "node-0",
		NodeAddr: "node-0:8080",
		Peers:    []string{"node-1:8080"},
	}, &nodeTransport{net: newFakeNetwork(), self: "node-0:8080"}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}

	resp := m.HandleHeartbeat(cluster.HeartbeatRequest{
		Term: 2, LeaderID: "node-1", LeaderAddr: "node-1:8080",
	})
	if !resp.Ok {
		t.Fatalf("expected heartbeat accepted, got %+v", resp)
	}
	if id, addr := m.Leader(); id != "node-1" || addr != "node-1:8080" {
		t.Fatalf("leader identity not adopted: %s %s", id, addr)
	}
	if m.Term() != 2 {
		t.Fatalf("term not adopted: %d", m.Term())
	}

	// A heartbeat from a deposed leader is refused and told the new term.
	resp = m.HandleHeartbeat(cluster.HeartbeatRequest{Term: 1, LeaderID: "node-2"})
	if resp.Ok || resp.Term != 2 {
		t.Fatalf("expected stale heartbeat refusal, got %+v", resp)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := cluster.Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing node id")
	}

	cfg = cluster.Config{
		NodeID:            "node-0",
		ElectionTimeout:   100 * time.Millisecond,
		HeartbeatInterval: 200 * time.Millisecond,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for heartbeat interval above election timeout")
	}

	cfg = cluster.Config{NodeID: "node-0"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.ElectionTimeout == 0 || cfg.HeartbeatInterval == 0 || cfg.PeerTimeout == 0 {
		t.Fatal("defaults not applied")
	}
}
