package rendezvous

import "sort"

// CheckReason is the closed set of reasons check_fault_node and
// straggler detection can report back to a polling client.
type CheckReason string

const (
	ReasonNone        CheckReason = "NONE"
	ReasonFaultNode   CheckReason = "FAULT_NODE"
	ReasonWaitingNode CheckReason = "WAITING_NODE"
	ReasonNoInit      CheckReason = "NO_INIT"
	ReasonStraggler   CheckReason = "STRAGGLER"
)

type nodeReport struct {
	peerNodeID int64
	success    bool
	elapsedMS  float64
}

// networkCheckState accumulates per-round pairwise results. It only
// exists on a Manager built with wire.FlavourNetworkCheck.
type networkCheckState struct {
	currentRound    map[int64]nodeReport
	lastRound       map[int64]nodeReport
	roundsCompleted int
}

func newNetworkCheckState() *networkCheckState {
	return &networkCheckState{currentRound: make(map[int64]nodeReport)}
}

// ReportNetworkCheckResult records nodeID's result against peerNodeID
// for the in-progress check round. Once every current member has
// reported, the round closes and becomes available to CheckFaultNode
// and StragglerNode.
func (m *Manager) ReportNetworkCheckResult(nodeID, peerNodeID int64, success bool, elapsedMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nc == nil {
		return
	}
	m.nc.currentRound[nodeID] = nodeReport{peerNodeID: peerNodeID, success: success, elapsedMS: elapsedMS}
	if len(m.members) > 0 && len(m.nc.currentRound) >= len(m.members) {
		m.nc.lastRound = m.nc.currentRound
		m.nc.currentRound = make(map[int64]nodeReport)
		m.nc.roundsCompleted++
	}
}

// CheckFaultNode reports the nodes implicated by the most recently
// closed check round. Fewer than two completed rounds means the
// client should keep polling (spec section 4.5, "Network-check
// results").
func (m *Manager) CheckFaultNode() ([]int64, CheckReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nc == nil || m.nc.roundsCompleted == 0 {
		return nil, ReasonNoInit
	}
	if m.nc.roundsCompleted < 2 {
		return nil, ReasonWaitingNode
	}

	seen := make(map[int64]bool)
	var failing []int64
	for nodeID, r := range m.nc.lastRound {
		if r.success {
			continue
		}
		if !seen[nodeID] {
			seen[nodeID] = true
			failing = append(failing, nodeID)
		}
		if !seen[r.peerNodeID] {
			seen[r.peerNodeID] = true
			failing = append(failing, r.peerNodeID)
		}
	}
	if len(failing) == 0 {
		return nil, ReasonNone
	}
	sort.Slice(failing, func(i, j int) bool { return failing[i] < failing[j] })
	return failing, ReasonFaultNode
}

// StragglerNode returns the node whose elapsed time in the most
// recently closed round exceeds the group median by factor, or
// ReasonNone if no such node exists.
func (m *Manager) StragglerNode(factor float64) (int64, CheckReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nc == nil || len(m.nc.lastRound) == 0 {
		return 0, ReasonNoInit
	}

	elapsed := make([]float64, 0, len(m.nc.lastRound))
	for _, r := range m.nc.lastRound {
		elapsed = append(elapsed, r.elapsedMS)
	}
	sort.Float64s(elapsed)
	median := elapsed[len(elapsed)/2]

	ids := make([]int64, 0, len(m.nc.lastRound))
	for id := range m.nc.lastRound {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if m.nc.lastRound[id].elapsedMS > median*factor {
			return id, ReasonStraggler
		}
	}
	return 0, ReasonNone
}
