// Package rendezvous implements the membership state machine and world
// assembly shared by the ELASTIC_TRAINING and NETWORK_CHECK flavours
// (spec section 4.5). Two independent *Manager instances are created,
// one per flavour, with the NETWORK_CHECK instance wired to clear the
// ELASTIC_TRAINING instance's waiting membership on every join.
package rendezvous

import (
	"sort"
	"sync"
	"time"

	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/Ind1x1/dlock/pkg/wire"
	"github.com/rs/zerolog"
)

// State is a round's position in the OPEN -> WAITING -> FROZEN cycle.
type State int

const (
	StateOpen State = iota
	StateWaiting
	StateFrozen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateWaiting:
		return "WAITING"
	case StateFrozen:
		return "FROZEN"
	default:
		return "UNKNOWN"
	}
}

// Member is one node's membership entry in the current round.
type Member struct {
	Rank           int
	LocalWorldSize int
	IP             string
	JoinTime       time.Time

	// WorldRank is set once this member is included in a published
	// world; nil for members held back past the node_unit cut.
	WorldRank *int
}

// World maps a published world-rank to its node's local process count.
type World map[int]int

// Manager owns one flavour's round state machine.
type Manager struct {
	mu sync.Mutex

	flavour wire.RendezvousFlavour
	logger  zerolog.Logger

	minNodes, maxNodes, nodeUnit int
	waitingTimeout, joinTimeout  time.Duration

	round         int
	state         State
	members       map[int64]*Member
	waitingSince  time.Time
	group         int
	publishedWorld World
	publishedRound int

	ckptSteps map[int64]int64

	// coupledClear, when set, is invoked after every successful join —
	// used to wire NETWORK_CHECK joins into clearing ELASTIC_TRAINING's
	// waiting membership (spec section 4.5, "Cross-flavour coupling").
	coupledClear func()

	rankShimLogged sync.Map

	nc *networkCheckState
}

// NewManager builds a Manager for one flavour. nodeUnit <= 0 is treated
// as 1 (no rounding).
func NewManager(flavour wire.RendezvousFlavour, minNodes, maxNodes, nodeUnit int, waitingTimeout, joinTimeout time.Duration) *Manager {
	if nodeUnit <= 0 {
		nodeUnit = 1
	}
	m := &Manager{
		flavour:        flavour,
		logger:         log.WithRdzvFlavour(string(flavour)),
		minNodes:       minNodes,
		maxNodes:       maxNodes,
		nodeUnit:       nodeUnit,
		waitingTimeout: waitingTimeout,
		joinTimeout:    joinTimeout,
		state:          StateOpen,
		members:        make(map[int64]*Member),
	}
	if flavour == wire.FlavourNetworkCheck {
		m.nc = newNetworkCheckState()
	}
	return m
}

// SetCoupledTrainingClear wires this (expected to be the NETWORK_CHECK)
// manager's joins to clear the given training manager's waiting
// membership.
func (m *Manager) SetCoupledTrainingClear(trainingClear func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupledClear = trainingClear
}

// Join adds or overwrites node_id's membership entry and returns the
// round it was admitted into. rank == -1 is a deprecated
// backward-compatibility path that falls back to node_id, logged once
// per node (spec section 9, Open Question).
func (m *Manager) Join(nodeID int64, rank, localWorldSize int, ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rank == -1 {
		if _, logged := m.rankShimLogged.LoadOrStore(nodeID, struct{}{}); !logged {
			m.logger.Warn().Int64("node_id", nodeID).Msg("join_rendezvous: rank=-1 compatibility shim, falling back to node_id (deprecated)")
		}
		rank = int(nodeID)
	}

	m.expireIfJoinTimedOut()

	_, isMember := m.members[nodeID]
	if m.state == StateFrozen && !isMember {
		m.openNewRound()
	}
	if m.state == StateOpen {
		m.state = StateWaiting
		m.waitingSince = time.Now()
	}

	m.members[nodeID] = &Member{Rank: rank, LocalWorldSize: localWorldSize, IP: ip, JoinTime: time.Now()}

	if m.coupledClear != nil {
		m.coupledClear()
	}

	m.maybeFreezeLocked()
	return m.round
}

// Tick drives the timeout-based transitions (waiting_timeout with
// quorum met, join_timeout without quorum) that Join alone cannot
// observe once no further joins arrive. Call it from a background
// ticker.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expireIfJoinTimedOut() {
		return
	}
	m.maybeFreezeLocked()
}

// expireIfJoinTimedOut implements "WAITING, join_timeout elapsed,
// membership < min_nodes -> OPEN, drop members". The round counter is
// left unchanged: the reopened round keeps its number. Caller must
// hold m.mu. Returns true if it fired.
func (m *Manager) expireIfJoinTimedOut() bool {
	if m.state != StateWaiting {
		return false
	}
	if len(m.members) >= m.minNodes {
		return false
	}
	if time.Since(m.waitingSince) < m.joinTimeout {
		return false
	}
	m.members = make(map[int64]*Member)
	m.state = StateOpen
	m.logger.Info().Int("round", m.round).Msg("join_timeout elapsed below min_nodes, round reopened")
	return true
}

// maybeFreezeLocked implements the two WAITING -> FROZEN transitions.
// Caller must hold m.mu.
func (m *Manager) maybeFreezeLocked() {
	if m.state != StateWaiting {
		return
	}
	n := len(m.members)
	if n >= m.maxNodes {
		m.freezeLocked()
		return
	}
	if n >= m.minNodes && time.Since(m.waitingSince) >= m.waitingTimeout {
		m.freezeLocked()
	}
}

// freezeLocked assembles and publishes the world. Caller must hold m.mu.
func (m *Manager) freezeLocked() {
	type entry struct {
		nodeID int64
		member *Member
	}
	entries := make([]entry, 0, len(m.members))
	for id, mem := range m.members {
		mem.WorldRank = nil
		entries = append(entries, entry{id, mem})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].member.Rank != entries[j].member.Rank {
			return entries[i].member.Rank < entries[j].member.Rank
		}
		return entries[i].nodeID < entries[j].nodeID
	})

	cut := (len(entries) / m.nodeUnit) * m.nodeUnit
	world := make(World, cut)
	for i := 0; i < cut; i++ {
		rank := i
		entries[i].member.WorldRank = &rank
		world[rank] = entries[i].member.LocalWorldSize
	}

	m.state = StateFrozen
	m.group++
	m.publishedWorld = world
	m.publishedRound = m.round

	m.logger.Info().
		Int("round", m.round).
		Int("world_size", cut).
		Int("held_back", len(entries)-cut).
		Msg("rendezvous round frozen")
}

// openNewRound bumps the round and drops membership. Caller must hold
// m.mu.
func (m *Manager) openNewRound() {
	m.round++
	m.members = make(map[int64]*Member)
	m.state = StateOpen
}

// ClearWaitingNodes drops the current round's membership and returns
// to OPEN without touching the round counter or any already-published
// world (spec section 4.5 diagram, and the NETWORK_CHECK -> ELASTIC
// cross-flavour coupling).
func (m *Manager) ClearWaitingNodes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = make(map[int64]*Member)
	m.state = StateOpen
}

// OnNodeFailed drops a failed node's membership. This is the callback
// hook the Job Manager invokes (spec section 9, cyclic reference
// redesign) rather than holding a back-pointer to it.
func (m *Manager) OnNodeFailed(nodeID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, nodeID)
}

// Round returns the round number of the last published world, and
// whether one has ever been published.
func (m *Manager) Round() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishedRound, m.publishedWorld != nil
}

// World returns a copy of the last published world.
func (m *Manager) World() World {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := make(World, len(m.publishedWorld))
	for k, v := range m.publishedWorld {
		w[k] = v
	}
	return w
}

// Group returns the current communication group id, bumped on every
// freeze.
func (m *Manager) Group() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.group
}

// NumWaitingNodes returns the current round's membership count while
// WAITING, or 0 once FROZEN or while OPEN.
func (m *Manager) NumWaitingNodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateWaiting {
		return 0
	}
	return len(m.members)
}

// State returns the current round's state and number.
func (m *Manager) State() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.round
}

// SyncCkptNodes returns true only once every current member has
// reported the same step (spec section 4.5, "Checkpoint sync").
func (m *Manager) SyncCkptNodes(nodeID, step int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ckptSteps == nil {
		m.ckptSteps = make(map[int64]int64)
	}
	m.ckptSteps[nodeID] = step
	if len(m.members) == 0 {
		return false
	}
	for id := range m.members {
		s, reported := m.ckptSteps[id]
		if !reported || s != step {
			return false
		}
	}
	return true
}
