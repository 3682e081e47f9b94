package rendezvous

import (
	"testing"
	"time"

	"github.com/Ind1x1/dlock/pkg/wire"
)

// TestHappyRendezvous is end-to-end scenario 1 from spec.md section 8:
// min=2, max=4, node_unit=1. A, B, C join in sequence and the round
// freezes with world ranks A->0, B->1, C->2.
func TestHappyRendezvous(t *testing.T) {
	m := NewManager(wire.FlavourElasticTraining, 2, 4, 1, time.Hour, time.Hour)

	const nodeA, nodeB, nodeC int64 = 1, 2, 3
	m.Join(nodeA, 0, 8, "10.0.0.1")
	m.Join(nodeB, 1, 8, "10.0.0.2")
	round := m.Join(nodeC, 2, 8, "10.0.0.3")

	state, _ := m.State()
	if state != StateWaiting {
		t.Fatalf("state = %v, want WAITING (quorum 3 < max 4, waiting_timeout not elapsed)", state)
	}
	if round != 0 {
		t.Fatalf("round = %d, want 0", round)
	}

	// Drive the waiting_timeout -> FROZEN transition via Tick, since
	// max_nodes (4) was never reached.
	m.waitingSince = time.Now().Add(-2 * time.Hour)
	m.Tick()

	state, _ = m.State()
	if state != StateFrozen {
		t.Fatalf("state = %v, want FROZEN after waiting_timeout with quorum met", state)
	}
	if m.NumWaitingNodes() != 0 {
		t.Fatalf("NumWaitingNodes = %d, want 0 after freeze", m.NumWaitingNodes())
	}

	world := m.World()
	if len(world) != 3 {
		t.Fatalf("world size = %d, want 3", len(world))
	}
	for rank, size := range world {
		if size != 8 {
			t.Errorf("world[%d] local_world_size = %d, want 8", rank, size)
		}
	}
}

// TestRoundRolloverOnNewJoiner is end-to-end scenario 2: after scenario
// 1 freezes, a new node D joins and the round increments, with D
// admitted into the next round's membership.
func TestRoundRolloverOnNewJoiner(t *testing.T) {
	m := NewManager(wire.FlavourElasticTraining, 2, 4, 1, time.Hour, time.Hour)
	m.Join(1, 0, 1, "a")
	m.Join(2, 1, 1, "b")
	m.waitingSince = time.Now().Add(-2 * time.Hour)
	m.Tick()

	frozenState, frozenRound := m.State()
	if frozenState != StateFrozen {
		t.Fatalf("expected FROZEN before rollover, got %v", frozenState)
	}

	newRound := m.Join(3, 2, 1, "c")
	if newRound != frozenRound+1 {
		t.Fatalf("round after new joiner = %d, want %d", newRound, frozenRound+1)
	}
	state, _ := m.State()
	if state != StateWaiting {
		t.Fatalf("state after rollover join = %v, want WAITING", state)
	}
}

// TestNetworkCheckSupersedesTraining is end-to-end scenario 4: a
// training round is WAITING with {A,B}; A joins NETWORK_CHECK and the
// training round's membership is cleared.
func TestNetworkCheckSupersedesTraining(t *testing.T) {
	training := NewManager(wire.FlavourElasticTraining, 2, 10, 1, time.Hour, time.Hour)
	netcheck := NewManager(wire.FlavourNetworkCheck, 2, 10, 2, time.Hour, time.Hour)
	netcheck.SetCoupledTrainingClear(training.ClearWaitingNodes)

	training.Join(1, 0, 1, "a")
	training.Join(2, 1, 1, "b")
	if training.NumWaitingNodes() != 2 {
		t.Fatalf("training waiting = %d, want 2 before network-check join", training.NumWaitingNodes())
	}

	netcheck.Join(1, 0, 1, "a")

	if training.NumWaitingNodes() != 0 {
		t.Fatalf("training waiting = %d, want 0 after network-check join supersedes it", training.NumWaitingNodes())
	}
	if netcheck.NumWaitingNodes() != 1 {
		t.Fatalf("netcheck waiting = %d, want 1", netcheck.NumWaitingNodes())
	}
}

func TestJoinTimeoutReopensRoundBelowMinNodes(t *testing.T) {
	m := NewManager(wire.FlavourElasticTraining, 3, 10, 1, time.Hour, 50*time.Millisecond)
	m.Join(1, 0, 1, "a")
	m.waitingSince = time.Now().Add(-time.Hour)
	m.Tick()

	state, round := m.State()
	if state != StateOpen {
		t.Fatalf("state = %v, want OPEN after join_timeout below min_nodes", state)
	}
	if m.NumWaitingNodes() != 0 {
		t.Fatal("members must be dropped on join_timeout reopen")
	}
	if round != 0 {
		t.Fatalf("round = %d, want unchanged 0 (no world was ever published)", round)
	}
}

func TestWorldSizeRoundedDownToNodeUnit(t *testing.T) {
	m := NewManager(wire.FlavourElasticTraining, 2, 10, 4, time.Hour, time.Hour)
	for i := int64(1); i <= 5; i++ {
		m.Join(i, int(i), 1, "ip")
	}
	m.waitingSince = time.Now().Add(-2 * time.Hour)
	m.Tick()

	world := m.World()
	if len(world) != 4 {
		t.Fatalf("world size = %d, want 4 (5 members rounded down to a multiple of node_unit=4)", len(world))
	}
}

func TestClearWaitingNodes(t *testing.T) {
	m := NewManager(wire.FlavourElasticTraining, 2, 10, 1, time.Hour, time.Hour)
	m.Join(1, 0, 1, "a")
	if m.NumWaitingNodes() != 1 {
		t.Fatal("expected one waiting member before clear")
	}
	m.ClearWaitingNodes()
	if m.NumWaitingNodes() != 0 {
		t.Fatal("expected empty membership after clear_waiting_nodes")
	}
}

func TestNetworkCheckFaultDetection(t *testing.T) {
	m := NewManager(wire.FlavourNetworkCheck, 2, 10, 2, time.Hour, time.Hour)
	m.Join(1, 0, 1, "a")
	m.Join(2, 1, 1, "b")

	if _, reason := m.CheckFaultNode(); reason != ReasonNoInit {
		t.Fatalf("reason = %v, want NO_INIT before any round completes", reason)
	}

	// Round 1: both succeed.
	m.ReportNetworkCheckResult(1, 2, true, 10)
	m.ReportNetworkCheckResult(2, 1, true, 12)
	if _, reason := m.CheckFaultNode(); reason != ReasonWaitingNode {
		t.Fatalf("reason = %v, want WAITING_NODE after a single completed round", reason)
	}

	// Round 2: node 2 reports failure against node 1.
	m.ReportNetworkCheckResult(1, 2, true, 9)
	m.ReportNetworkCheckResult(2, 1, false, 11)

	nodes, reason := m.CheckFaultNode()
	if reason != ReasonFaultNode {
		t.Fatalf("reason = %v, want FAULT_NODE", reason)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %v, want both ends of the failing pair", nodes)
	}
}

func TestSyncCkptNodesRequiresAllMembersAgree(t *testing.T) {
	m := NewManager(wire.FlavourElasticTraining, 2, 10, 1, time.Hour, time.Hour)
	m.Join(1, 0, 1, "a")
	m.Join(2, 1, 1, "b")

	if m.SyncCkptNodes(1, 5) {
		t.Fatal("must not fire with only one of two members reported")
	}
	if !m.SyncCkptNodes(2, 5) {
		t.Fatal("must fire once every current member reports the same step")
	}
}
