// Package jobmanager is the top-level owner of the node inventory,
// heartbeat liveness, and failure handling (spec section 4.7). It
// breaks the Task Manager / Rendezvous Manager cyclic reference
// described in spec section 9 by owning callback hooks into both
// rather than either of them holding a back-pointer here.
package jobmanager

import (
	"sync"
	"time"

	"github.com/Ind1x1/dlock/pkg/diagnosis"
	"github.com/Ind1x1/dlock/pkg/eventbus"
	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/Ind1x1/dlock/pkg/wire"
	"github.com/rs/zerolog"
)

// Status is a node's position in the ALIVE -> HEARTBEAT_MISSED ->
// FAILED -> REPLACED lifecycle (spec section 3, "Node").
type Status string

const (
	StatusAlive           Status = "ALIVE"
	StatusHeartbeatMissed Status = "HEARTBEAT_MISSED"
	StatusFailed          Status = "FAILED"
	StatusReplaced        Status = "REPLACED"
)

// Node is the inventory entry for one worker or PS process.
type Node struct {
	Type           wire.NodeType
	ID             int64
	Rank           int
	IP             string
	ServiceAddr    string
	ParallelConfig string
	TrainingPort   int
	LocalWorldSize int

	Status        Status
	LastHeartbeat time.Time
	FirstSeen     time.Time

	Resources wire.ResourceStats

	RestartCount int
	LastError    string
}

const recentEventsCapacity = 100

// Facade owns the node inventory for the job's lifetime.
type Facade struct {
	mu    sync.RWMutex
	nodes map[int64]*Node

	heartbeatTimeout time.Duration
	failureTimeout   time.Duration

	onNodeFailed []func(nodeID int64)

	pendingActions map[int64]diagnosis.Action

	psReady     bool
	psFailure   bool
	autoScaling bool

	broker       *eventbus.Broker
	brokerSub    eventbus.Subscriber
	recentEvents []eventbus.Event
	stopCh       chan struct{}

	logger zerolog.Logger
}

// NewFacade builds a Facade. broker may be nil; when non-nil the
// Facade subscribes and keeps a bounded ring buffer of recent events
// for diagnostics.
func NewFacade(heartbeatTimeout, failureTimeout time.Duration, broker *eventbus.Broker) *Facade {
	f := &Facade{
		nodes:            make(map[int64]*Node),
		heartbeatTimeout: heartbeatTimeout,
		failureTimeout:   failureTimeout,
		pendingActions:   make(map[int64]diagnosis.Action),
		broker:           broker,
		stopCh:           make(chan struct{}),
		logger:           log.WithComponent("job_manager"),
	}
	if broker != nil {
		f.brokerSub = broker.Subscribe()
		go f.consumeEvents()
	}
	return f
}

// Stop unsubscribes from the event broker and stops the background
// consumer. Safe to call on a Facade built with a nil broker.
func (f *Facade) Stop() {
	close(f.stopCh)
	if f.broker != nil {
		f.broker.Unsubscribe(f.brokerSub)
	}
}

func (f *Facade) consumeEvents() {
	for {
		select {
		case <-f.stopCh:
			return
		case ev, ok := <-f.brokerSub:
			if !ok {
				return
			}
			f.mu.Lock()
			f.recentEvents = append(f.recentEvents, *ev)
			if len(f.recentEvents) > recentEventsCapacity {
				f.recentEvents = f.recentEvents[len(f.recentEvents)-recentEventsCapacity:]
			}
			f.mu.Unlock()
		}
	}
}

// RecentEvents returns a copy of the bounded event ring buffer.
func (f *Facade) RecentEvents() []eventbus.Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]eventbus.Event, len(f.recentEvents))
	copy(out, f.recentEvents)
	return out
}

// RegisterOnNodeFailed wires a callback (typically Task Manager's or a
// Rendezvous Manager's OnNodeFailed) to be invoked whenever this Facade
// declares a node FAILED.
func (f *Facade) RegisterOnNodeFailed(hook func(nodeID int64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNodeFailed = append(f.onNodeFailed, hook)
}

func (f *Facade) getOrCreateLocked(nodeType wire.NodeType, nodeID int64) *Node {
	n, ok := f.nodes[nodeID]
	if !ok {
		n = &Node{Type: nodeType, ID: nodeID, Rank: -1, Status: StatusAlive, FirstSeen: time.Now()}
		f.nodes[nodeID] = n
	}
	return n
}

// GetRunningNodes returns every node not yet declared FAILED or
// REPLACED, with its resource config.
func (f *Facade) GetRunningNodes() []Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		if n.Status == StatusFailed || n.Status == StatusReplaced {
			continue
		}
		out = append(out, *n)
	}
	return out
}

// GetNextClusterPS returns the current PS nodes and whether the
// facade has been told (via PostPSReady) that the next generation is
// ready.
func (f *Facade) GetNextClusterPS() ([]Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var ps []Node
	for _, n := range f.nodes {
		if n.Type == wire.NodeTypePS && n.Status != StatusFailed && n.Status != StatusReplaced {
			ps = append(ps, *n)
		}
	}
	return ps, f.psReady
}

// ProcessReportedNodeEvent dispatches a watcher-style event. A
// NODE_CHECK_FAILED event marks the node failed and reclaims its
// tasks via the registered hooks; any other event is recorded to the
// event broker if one is wired.
func (f *Facade) ProcessReportedNodeEvent(nodeID int64, eventType, message string) {
	if eventType == "NODE_CHECK_FAILED" {
		f.MarkNodeFailed(nodeID)
		return
	}
	if f.broker != nil {
		f.broker.Publish(&eventbus.Event{NodeID: nodeID, EventType: eventType, Message: message})
	}
}

// HandleTrainingFailure records a node's restart count and last error.
// At RDZV_ERROR level the logged message names the current rendezvous
// round as the cause; no round number is recorded, and the Facade
// holds no reference to either Rendezvous Manager.
func (f *Facade) HandleTrainingFailure(nodeID int64, restartCount int, errorData, level string) {
	f.mu.Lock()
	n := f.getOrCreateLocked(wire.NodeTypeWorker, nodeID)
	n.RestartCount = restartCount
	n.LastError = errorData
	f.mu.Unlock()

	event := f.logger.Warn().Int64("node_id", nodeID).Int("restart_count", restartCount).Str("error", errorData).Str("level", level)
	if level == "RDZV_ERROR" {
		event.Msg("training failure attributed to current rendezvous round")
	} else {
		event.Msg("training failure recorded")
	}
}

// CollectNodeHeartBeat updates liveness for (type, id) and returns the
// next pending diagnosis action for that node, or NoAction if none is
// queued.
func (f *Facade) CollectNodeHeartBeat(nodeType wire.NodeType, nodeID int64, timestamp int64) diagnosis.Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.getOrCreateLocked(nodeType, nodeID)
	n.LastHeartbeat = time.Now()
	if n.Status == StatusHeartbeatMissed {
		n.Status = StatusAlive
	}

	action, ok := f.pendingActions[nodeID]
	if !ok {
		return diagnosis.NoAction{}
	}
	delete(f.pendingActions, nodeID)
	return action
}

// SetPendingAction queues the next action CollectNodeHeartBeat will
// return for nodeID, overwriting any action already queued.
func (f *Facade) SetPendingAction(nodeID int64, action diagnosis.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingActions[nodeID] = action
}

// SweepLiveness transitions nodes past heartbeat_timeout to
// HEARTBEAT_MISSED, and past failure_timeout to FAILED, reclaiming the
// latter's tasks via every registered hook. Call it from a background
// ticker.
func (f *Facade) SweepLiveness() {
	var failedIDs []int64

	f.mu.Lock()
	now := time.Now()
	for id, n := range f.nodes {
		if n.Status == StatusFailed || n.Status == StatusReplaced || n.LastHeartbeat.IsZero() {
			continue
		}
		age := now.Sub(n.LastHeartbeat)
		switch {
		case age > f.failureTimeout:
			n.Status = StatusFailed
			failedIDs = append(failedIDs, id)
		case age > f.heartbeatTimeout:
			n.Status = StatusHeartbeatMissed
		}
	}
	hooks := append([]func(int64){}, f.onNodeFailed...)
	f.mu.Unlock()

	for _, id := range failedIDs {
		f.logger.Warn().Int64("node_id", id).Msg("node declared FAILED on heartbeat timeout")
		for _, hook := range hooks {
			hook(id)
		}
	}
}

// MarkNodeFailed declares nodeID failed outright (used by explicit
// NODE_CHECK_FAILED events rather than the heartbeat sweep) and
// invokes every registered on-failure hook.
func (f *Facade) MarkNodeFailed(nodeID int64) {
	f.mu.Lock()
	n, ok := f.nodes[nodeID]
	if ok {
		n.Status = StatusFailed
	}
	hooks := append([]func(int64){}, f.onNodeFailed...)
	f.mu.Unlock()

	if !ok {
		return
	}
	f.logger.Warn().Int64("node_id", nodeID).Msg("node declared FAILED by watcher event")
	for _, hook := range hooks {
		hook(nodeID)
	}
}

// UpdateNodeResourceUsage records a node's latest reported resource
// stats.
func (f *Facade) UpdateNodeResourceUsage(nodeID int64, stats wire.ResourceStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.getOrCreateLocked(wire.NodeTypeWorker, nodeID)
	n.Resources = stats
}

// UpdateNodeServiceAddr records a node's reported service address.
func (f *Facade) UpdateNodeServiceAddr(nodeID int64, addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.getOrCreateLocked(wire.NodeTypeWorker, nodeID)
	n.ServiceAddr = addr
}

// UpdateNodeParalConfig records a node's reported parallel config.
func (f *Facade) UpdateNodeParalConfig(nodeID int64, cfg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.getOrCreateLocked(wire.NodeTypeWorker, nodeID)
	n.ParallelConfig = cfg
}

// SyncNodeTrainingPort records a node's training port and reports
// whether the node was already known.
func (f *Facade) SyncNodeTrainingPort(nodeID int64, port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, known := f.nodes[nodeID]
	if !known {
		n = f.getOrCreateLocked(wire.NodeTypeWorker, nodeID)
	}
	n.TrainingPort = port
	return known
}

// StartAutoScaling is the AutoScaler target the Speed Aggregator calls
// into once its trigger fires.
func (f *Facade) StartAutoScaling() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoScaling = true
}

// ReadyForNewPSCluster reports whether the next PS generation has been
// posted ready (via PostPSReady).
func (f *Facade) ReadyForNewPSCluster() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.psReady
}

// PostPSReady records whether the next PS generation is ready.
func (f *Facade) PostPSReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.psReady = ready
}

// HasPSFailure reports whether any PS node in the inventory is
// currently marked FAILED.
func (f *Facade) HasPSFailure() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.psFailure {
		return true
	}
	for _, n := range f.nodes {
		if n.Type == wire.NodeTypePS && n.Status == StatusFailed {
			return true
		}
	}
	return false
}

// GetNode returns a copy of a node's inventory entry, if known.
func (f *Facade) GetNode(nodeID int64) (Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// VerifyRestartingWorkerTraining reports whether (type, id) is known
// and not currently FAILED, i.e. safe to let resume training.
func (f *Facade) VerifyRestartingWorkerTraining(nodeType wire.NodeType, nodeID int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return false
	}
	return n.Type == nodeType && n.Status != StatusFailed
}
