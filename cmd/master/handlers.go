package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Ind1x1/dlock/pkg/clusterversion"
	"github.com/Ind1x1/dlock/pkg/config"
	"github.com/Ind1x1/dlock/pkg/diagnosis"
	"github.com/Ind1x1/dlock/pkg/eventbus"
	"github.com/Ind1x1/dlock/pkg/jobmanager"
	"github.com/Ind1x1/dlock/pkg/kvstore"
	"github.com/Ind1x1/dlock/pkg/multiplexer"
	"github.com/Ind1x1/dlock/pkg/rendezvous"
	"github.com/Ind1x1/dlock/pkg/speed"
	"github.com/Ind1x1/dlock/pkg/syncservice"
	"github.com/Ind1x1/dlock/pkg/task"
	"github.com/Ind1x1/dlock/pkg/wire"
)

// stragglerFactor is the configured multiple of the group median
// elapsed time a node must exceed to be reported a straggler (spec
// section 4.5, "Network-check results").
const stragglerFactor = 2.0

// components holds every long-lived coordinator the handlers close
// over. It exists purely to keep RegisterHandlers's parameter list
// short; nothing outside this file constructs or mutates it beyond
// wiring.
type components struct {
	cfg      *config.MasterConfig
	kv       *kvstore.Store
	sync     *syncservice.Service
	tasks    *task.Manager
	training *rendezvous.Manager
	netcheck *rendezvous.Manager
	versions *clusterversion.Service
	jobs     *jobmanager.Facade
	speedAgg *speed.Aggregator
	broker   *eventbus.Broker

	solutionsMu sync.Mutex
	solutions   map[int64][]diagnosis.Solution
}

func newComponents(cfg *config.MasterConfig, broker *eventbus.Broker) *components {
	jobs := jobmanager.NewFacade(config.DefaultHeartbeatTimeout, config.DefaultFailureTimeout, broker)
	tasks := task.NewManager(config.DefaultTaskAssignmentTimeout)
	training := rendezvous.NewManager(wire.FlavourElasticTraining, 1, cfg.NodeNum, 1, config.DefaultWaitingTimeout, config.DefaultJoinTimeout)
	netcheck := rendezvous.NewManager(wire.FlavourNetworkCheck, 2, cfg.NodeNum, 2, config.DefaultWaitingTimeout, config.DefaultJoinTimeout)
	netcheck.SetCoupledTrainingClear(training.ClearWaitingNodes)

	jobs.RegisterOnNodeFailed(tasks.OnNodeFailed)
	jobs.RegisterOnNodeFailed(training.OnNodeFailed)
	jobs.RegisterOnNodeFailed(netcheck.OnNodeFailed)

	c := &components{
		cfg:       cfg,
		kv:        kvstore.New(),
		sync:      syncservice.New(),
		tasks:     tasks,
		training:  training,
		netcheck:  netcheck,
		versions:  clusterversion.New(),
		jobs:      jobs,
		broker:    broker,
		solutions: make(map[int64][]diagnosis.Solution),
	}
	c.speedAgg = speed.NewAggregator(sampleCountToAdjustWorker, secondsToAutoscaleWorker*time.Second, trainingStart, jobs)
	return c
}

// sampleCountToAdjustWorker and secondsToAutoscaleWorker are the Speed
// Aggregator's two independent trigger thresholds (spec section 4.9).
// Neither is among spec.md section 6's bit-exact constants; both are
// operator tunables in the original and are fixed here rather than
// exposed as flags, since no CLI flag for them is named in spec
// section 6.
const (
	sampleCountToAdjustWorker = 200
	secondsToAutoscaleWorker  = 600
)

var trainingStart = timeNow()

func (m RendezvousManagerPair) pick(flavour wire.RendezvousFlavour) *rendezvous.Manager {
	if flavour == wire.FlavourNetworkCheck {
		return m.netcheck
	}
	return m.training
}

// RendezvousManagerPair lets handler closures pick a flavour's manager
// without a type switch at every call site.
type RendezvousManagerPair struct {
	training *rendezvous.Manager
	netcheck *rendezvous.Manager
}

func decode(payload []byte, v interface{}) bool {
	return json.Unmarshal(payload, v) == nil
}

func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// RegisterHandlers binds every payload kind listed in spec.md section 6
// to its component operation.
func RegisterHandlers(mux *multiplexer.Multiplexer, c *components) {
	rdzv := RendezvousManagerPair{training: c.training, netcheck: c.netcheck}

	mux.RegisterReport(wire.KindDatasetShardParams, func(env wire.Envelope) bool {
		var p wire.DatasetShardParams
		if !decode(env.Payload, &p) {
			return false
		}
		c.tasks.CreateDataset(p.DatasetName, p.Size, p.BatchSize, p.NumEpochs, p.Shuffle, p.StorageType, p.MinibatchesPerShard)
		return true
	})

	mux.RegisterReport(wire.KindResourceStats, func(env wire.Envelope) bool {
		var p wire.ResourceStats
		if !decode(env.Payload, &p) {
			return false
		}
		c.jobs.UpdateNodeResourceUsage(env.NodeID, p)
		return true
	})

	mux.RegisterReport(wire.KindModelInfo, func(env wire.Envelope) bool {
		var p wire.ModelInfo
		if !decode(env.Payload, &p) {
			return false
		}
		c.kv.Set("model_info", encode(p))
		return true
	})

	mux.RegisterReport(wire.KindGlobalStep, func(env wire.Envelope) bool {
		var p wire.GlobalStep
		if !decode(env.Payload, &p) {
			return false
		}
		c.speedAgg.Report(speed.Sample{NodeID: env.NodeID, GlobalStep: p.GlobalStep, Timestamp: p.Timestamp, ElapsedPerStep: p.ElapsedPerStep})
		return true
	})

	mux.RegisterReport(wire.KindShardCheckpoint, func(env wire.Envelope) bool {
		var p wire.ShardCheckpoint
		if !decode(env.Payload, &p) {
			return false
		}
		return c.tasks.Restore(p.DatasetName, p.Checkpoint) == nil
	})

	mux.RegisterReport(wire.KindTaskResult, func(env wire.Envelope) bool {
		var p wire.TaskResult
		if !decode(env.Payload, &p) {
			return false
		}
		return c.tasks.ReportTaskResult(p.DatasetName, p.TaskID, p.Error)
	})

	mux.RegisterReport(wire.KindClusterVersion, func(env wire.Envelope) bool {
		var p wire.ClusterVersion
		if !decode(env.Payload, &p) {
			return false
		}
		c.versions.Update(clusterversion.Role(p.Role), p.TaskID, p.VersionType, p.Version)
		return true
	})

	mux.RegisterReport(wire.KindNodeAddress, func(env wire.Envelope) bool {
		var p wire.NodeAddress
		if !decode(env.Payload, &p) {
			return false
		}
		c.jobs.UpdateNodeServiceAddr(env.NodeID, p.ServiceAddr)
		return true
	})

	mux.RegisterReport(wire.KindNodeEvent, func(env wire.Envelope) bool {
		var p wire.NodeEvent
		if !decode(env.Payload, &p) {
			return false
		}
		c.jobs.ProcessReportedNodeEvent(env.NodeID, p.EventType, p.Message)
		return true
	})

	mux.RegisterReport(wire.KindSyncJoin, func(env wire.Envelope) bool {
		var p wire.SyncJoin
		if !decode(env.Payload, &p) {
			return false
		}
		return c.sync.JoinSync(p.Name, env.NodeType, env.NodeID)
	})

	mux.RegisterReport(wire.KindSyncFinish, func(env wire.Envelope) bool {
		var p wire.SyncFinish
		if !decode(env.Payload, &p) {
			return false
		}
		return c.sync.SyncFinished(p.Name)
	})

	mux.RegisterReport(wire.KindSyncBarrier, func(env wire.Envelope) bool {
		var p wire.SyncBarrier
		if !decode(env.Payload, &p) {
			return false
		}
		return c.sync.Barrier(p.Name, c.cfg.NodeNum)
	})

	mux.RegisterReport(wire.KindNodeFailure, func(env wire.Envelope) bool {
		var p wire.NodeFailure
		if !decode(env.Payload, &p) {
			return false
		}
		c.jobs.HandleTrainingFailure(env.NodeID, p.RestartCount, p.ErrorData, p.Level)
		return true
	})

	mux.RegisterReport(wire.KindRendezvousParams, func(env wire.Envelope) bool {
		var p wire.RendezvousParams
		if !decode(env.Payload, &p) {
			return false
		}
		rdzv.pick(p.Flavour).Join(env.NodeID, p.Rank, p.LocalWorldSize, p.IP)
		return true
	})

	mux.RegisterReport(wire.KindPsReady, func(env wire.Envelope) bool {
		var p wire.PsReady
		if !decode(env.Payload, &p) {
			return false
		}
		c.jobs.PostPSReady(p.Ready)
		return true
	})

	mux.RegisterReport(wire.KindKeyValuePair, func(env wire.Envelope) bool {
		var p wire.KeyValuePair
		if !decode(env.Payload, &p) {
			return false
		}
		c.kv.Set(p.Key, p.Value)
		return true
	})

	mux.RegisterReport(wire.KindParallelConfig, func(env wire.Envelope) bool {
		var p wire.ParallelConfig
		if !decode(env.Payload, &p) {
			return false
		}
		c.jobs.UpdateNodeParalConfig(env.NodeID, p.Config)
		return true
	})

	mux.RegisterReport(wire.KindNodeCheckpointState, func(env wire.Envelope) bool {
		var p wire.NodeCheckpointState
		if !decode(env.Payload, &p) {
			return false
		}
		ready := c.training.SyncCkptNodes(env.NodeID, p.Step)
		if ready {
			c.kv.Set("ckpt_sync_ready", []byte("true"))
		}
		return true
	})

	mux.RegisterReport(wire.KindDiagnosisReportData, func(env wire.Envelope) bool {
		var p wire.DiagnosisReportData
		if !decode(env.Payload, &p) {
			return false
		}
		c.solutionsMu.Lock()
		c.solutions[env.NodeID] = append(c.solutions[env.NodeID], diagnosis.Solution{
			Name: p.Name, Attribution: p.Attribution, Description: p.Description, Configs: p.Configs,
		})
		c.solutionsMu.Unlock()
		return true
	})

	mux.RegisterReport(wire.KindEvent, func(env wire.Envelope) bool {
		var p wire.Event
		if !decode(env.Payload, &p) {
			return false
		}
		if c.broker != nil {
			c.broker.Publish(&eventbus.Event{NodeID: env.NodeID, EventType: p.EventType, Message: p.Message, Labels: p.Labels})
		}
		return true
	})

	mux.RegisterReport(wire.KindNetworkCheckResult, func(env wire.Envelope) bool {
		var p wire.NetworkCheckResult
		if !decode(env.Payload, &p) {
			return false
		}
		c.netcheck.ReportNetworkCheckResult(env.NodeID, p.PeerNodeID, p.Success, p.ElapsedMS)
		return true
	})

	mux.RegisterGet(wire.KindTaskRequest, func(env wire.Envelope) []byte {
		var p wire.TaskRequest
		if !decode(env.Payload, &p) {
			return nil
		}
		t := c.tasks.GetTask(p.DatasetName, env.NodeID, task.Type(p.TaskType))
		return encode(struct {
			TaskID      int64  `json:"task_id"`
			TaskType    string `json:"task_type"`
			DatasetName string `json:"dataset_name"`
			Start       int64  `json:"start"`
			End         int64  `json:"end"`
		}{int64(t.TaskID), string(t.TaskType), t.Shard.DatasetName, t.Shard.Start, t.Shard.End})
	})

	mux.RegisterGet(wire.KindShardCheckpointRequest, func(env wire.Envelope) []byte {
		var p wire.ShardCheckpointRequest
		if !decode(env.Payload, &p) {
			return nil
		}
		ckpt, err := c.tasks.Checkpoint(p.DatasetName)
		if err != nil {
			return nil
		}
		return encode(wire.ShardCheckpoint{DatasetName: p.DatasetName, Checkpoint: ckpt})
	})

	mux.RegisterGet(wire.KindClusterVersionRequest, func(env wire.Envelope) []byte {
		var p wire.ClusterVersionRequest
		if !decode(env.Payload, &p) {
			return nil
		}
		v := c.versions.Get(clusterversion.Role(p.Role), p.TaskID, p.VersionType)
		return encode(wire.ClusterVersion{Role: p.Role, TaskID: p.TaskID, VersionType: p.VersionType, Version: v})
	})

	mux.RegisterGet(wire.KindRunningNodesRequest, func(env wire.Envelope) []byte {
		return encode(c.jobs.GetRunningNodes())
	})

	mux.RegisterGet(wire.KindJoinRendezvousRequest, func(env wire.Envelope) []byte {
		var p wire.JoinRendezvousRequest
		if !decode(env.Payload, &p) {
			return nil
		}
		round := rdzv.pick(p.Flavour).Join(env.NodeID, p.Rank, p.LocalWorldSize, p.IP)
		return encode(struct {
			Round int `json:"round"`
		}{round})
	})

	mux.RegisterGet(wire.KindWaitingNodeNumRequest, func(env wire.Envelope) []byte {
		var p wire.WaitingNodeNumRequest
		if !decode(env.Payload, &p) {
			return nil
		}
		return encode(struct {
			WaitingNum int `json:"waiting_num"`
		}{rdzv.pick(p.Flavour).NumWaitingNodes()})
	})

	mux.RegisterGet(wire.KindNetworkReadyRequest, func(env wire.Envelope) []byte {
		nodes, reason := c.netcheck.CheckFaultNode()
		return encode(struct {
			Nodes  []int64              `json:"nodes"`
			Reason rendezvous.CheckReason `json:"reason"`
		}{nodes, reason})
	})

	mux.RegisterGet(wire.KindStragglerExistRequest, func(env wire.Envelope) []byte {
		node, reason := c.netcheck.StragglerNode(stragglerFactor)
		return encode(struct {
			Node   int64                  `json:"node"`
			Reason rendezvous.CheckReason `json:"reason"`
		}{node, reason})
	})

	mux.RegisterGet(wire.KindCommWorldRequest, func(env wire.Envelope) []byte {
		var p wire.CommWorldRequest
		if !decode(env.Payload, &p) {
			return nil
		}
		mgr := rdzv.pick(p.Flavour)
		round, published := mgr.Round()
		return encode(struct {
			Round     int             `json:"round"`
			Published bool            `json:"published"`
			Group     int             `json:"group"`
			World     rendezvous.World `json:"world"`
		}{round, published, mgr.Group(), mgr.World()})
	})

	mux.RegisterGet(wire.KindPsNodesRequest, func(env wire.Envelope) []byte {
		nodes, ready := c.jobs.GetNextClusterPS()
		return encode(struct {
			Nodes     []jobmanager.Node `json:"nodes"`
			Ready     bool              `json:"ready"`
			PsFailure bool              `json:"ps_failure"`
		}{nodes, ready, c.jobs.HasPSFailure()})
	})

	mux.RegisterGet(wire.KindTrainingStatusRequest, func(env wire.Envelope) []byte {
		state, round := c.training.State()
		return encode(struct {
			State rendezvous.State `json:"state"`
			Round int              `json:"round"`
		}{state, round})
	})

	mux.RegisterGet(wire.KindParallelConfigRequest, func(env wire.Envelope) []byte {
		n, ok := c.jobs.GetNode(env.NodeID)
		if !ok {
			return encode(wire.ParallelConfig{})
		}
		return encode(wire.ParallelConfig{Config: n.ParallelConfig})
	})

	mux.RegisterGet(wire.KindCheckHardwareResetReq, func(env wire.Envelope) []byte {
		needsReset := !c.jobs.VerifyRestartingWorkerTraining(env.NodeType, env.NodeID)
		return encode(struct {
			NeedsReset bool `json:"needs_reset"`
		}{needsReset})
	})

	mux.RegisterGet(wire.KindSyncTrainingPort, func(env wire.Envelope) []byte {
		var p wire.SyncTrainingPort
		if !decode(env.Payload, &p) {
			return nil
		}
		c.jobs.SyncNodeTrainingPort(env.NodeID, p.Port)
		return encode(wire.SyncTrainingPort{Port: p.Port})
	})

	mux.RegisterGet(wire.KindElasticRunConfigReq, func(env wire.Envelope) []byte {
		return encode(struct {
			NodeNum              int                         `json:"node_num"`
			DistributionStrategy config.DistributionStrategy `json:"distribution_strategy"`
			RelaunchAlways       bool                        `json:"relaunch_always"`
		}{c.cfg.NodeNum, c.cfg.DistributionStrategy, c.cfg.RelaunchAlways})
	})

	mux.RegisterGet(wire.KindHeartBeat, func(env wire.Envelope) []byte {
		var p wire.HeartBeat
		if !decode(env.Payload, &p) {
			return nil
		}

		c.solutionsMu.Lock()
		pending := c.solutions[env.NodeID]
		delete(c.solutions, env.NodeID)
		c.solutionsMu.Unlock()
		if len(pending) > 0 {
			c.jobs.SetPendingAction(env.NodeID, diagnosis.Coordinate(pending))
		}

		action := c.jobs.CollectNodeHeartBeat(env.NodeType, env.NodeID, p.Timestamp)
		switch a := action.(type) {
		case diagnosis.EventAction:
			return encode(struct {
				Kind                 string            `json:"kind"`
				EventType            string            `json:"event_type"`
				EventInstance        string            `json:"event_instance"`
				Action               string            `json:"action"`
				Msg                  string            `json:"msg"`
				Labels               map[string]string `json:"labels"`
				ExpiredTimePeriod    int64             `json:"expired_time_period_seconds"`
				ExecutableTimePeriod int64             `json:"executable_time_period_seconds"`
			}{"EventAction", a.EventType, a.EventInstance, a.Action, a.Msg, a.Labels, int64(a.ExpiredTimePeriod.Seconds()), int64(a.ExecutableTimePeriod.Seconds())})
		default:
			return encode(struct {
				Kind string `json:"kind"`
			}{"NoAction"})
		}
	})
}
