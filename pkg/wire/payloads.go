package wire

// Payload kind tags. These are the closed set of known payload_kind
// values the multiplexer's registry recognizes (spec section 9's
// "dynamic dispatch by class name" redesigned as a closed tagged
// variant): an unrecognized tag is never routed by reflection, it is
// simply absent from the registry and the multiplexer replies
// success=false / empty payload.
const (
	// Report kinds.
	KindDatasetShardParams  = "DatasetShardParams"
	KindResourceStats       = "ResourceStats"
	KindModelInfo           = "ModelInfo"
	KindGlobalStep          = "GlobalStep"
	KindShardCheckpoint     = "ShardCheckpoint"
	KindTaskResult          = "TaskResult"
	KindClusterVersion      = "ClusterVersion"
	KindNodeAddress         = "NodeAddress"
	KindNodeEvent           = "NodeEvent"
	KindSyncJoin            = "SyncJoin"
	KindSyncFinish          = "SyncFinish"
	KindSyncBarrier         = "SyncBarrier"
	KindNodeFailure         = "NodeFailure"
	KindRendezvousParams    = "RendezvousParams"
	KindPsReady             = "PsReady"
	KindKeyValuePair        = "KeyValuePair"
	KindParallelConfig      = "ParallelConfig"
	KindNodeCheckpointState = "NodeCheckpointState"
	KindDiagnosisReportData = "DiagnosisReportData"
	KindEvent               = "Event"
	KindNetworkCheckResult  = "NetworkCheckResult"

	// Get kinds.
	KindTaskRequest             = "TaskRequest"
	KindShardCheckpointRequest  = "ShardCheckpointRequest"
	KindClusterVersionRequest   = "ClusterVersionRequest"
	KindRunningNodesRequest     = "RunningNodesRequest"
	KindJoinRendezvousRequest   = "JoinRendezvousRequest"
	KindWaitingNodeNumRequest   = "WaitingNodeNumRequest"
	KindNetworkReadyRequest     = "NetworkReadyRequest"
	KindStragglerExistRequest   = "StragglerExistRequest"
	KindCommWorldRequest        = "CommWorldRequest"
	KindPsNodesRequest          = "PsNodesRequest"
	KindTrainingStatusRequest   = "TrainingStatusRequest"
	KindParallelConfigRequest   = "ParallelConfigRequest"
	KindCheckHardwareResetReq   = "CheckHardwareResetRequest"
	KindSyncTrainingPort        = "SyncTrainingPort"
	KindElasticRunConfigReq     = "ElasticRunConfigRequest"
	KindHeartBeat               = "HeartBeat"
)

// RendezvousFlavour is the closed set of independent rendezvous
// instances (spec section 4.5).
type RendezvousFlavour string

const (
	FlavourElasticTraining RendezvousFlavour = "ELASTIC_TRAINING"
	FlavourNetworkCheck    RendezvousFlavour = "NETWORK_CHECK"
)

// --- Report payloads ---

type DatasetShardParams struct {
	DatasetName        string `json:"dataset_name"`
	Size               int64  `json:"size"`
	BatchSize          int64  `json:"batch_size"`
	NumEpochs          int    `json:"num_epochs"`
	Shuffle            bool   `json:"shuffle"`
	StorageType        string `json:"storage_type"`
	MinibatchesPerShard int   `json:"minibatches_per_shard"`
}

type ResourceStats struct {
	CPUCores  float64 `json:"cpu_cores"`
	MemoryMB  int64   `json:"memory_mb"`
	GPUCount  int     `json:"gpu_count"`
}

type ModelInfo struct {
	ModelName  string `json:"model_name"`
	NumParams  int64  `json:"num_params"`
}

type GlobalStep struct {
	GlobalStep     int64   `json:"global_step"`
	Timestamp      int64   `json:"timestamp"`
	ElapsedPerStep float64 `json:"elapsed_per_step"`
}

type ShardCheckpoint struct {
	DatasetName string `json:"dataset_name"`
	Checkpoint  string `json:"checkpoint"`
}

type TaskResult struct {
	DatasetName string `json:"dataset_name"`
	TaskID      int64  `json:"task_id"`
	Error       string `json:"error"`
}

type ClusterVersion struct {
	Role        string `json:"role"`
	TaskID      int64  `json:"task_id"`
	VersionType string `json:"version_type"`
	Version     int64  `json:"version"`
}

type NodeAddress struct {
	ServiceAddr string `json:"service_addr"`
}

type NodeEvent struct {
	EventType string `json:"event_type"`
	Message   string `json:"message"`
}

type SyncJoin struct {
	Name string `json:"name"`
}

type SyncFinish struct {
	Name string `json:"name"`
}

type SyncBarrier struct {
	Name string `json:"name"`
}

type NodeFailure struct {
	RestartCount int    `json:"restart_count"`
	ErrorData    string `json:"error_data"`
	Level        string `json:"level"`
}

type RendezvousParams struct {
	Flavour         RendezvousFlavour `json:"flavour"`
	Rank            int               `json:"rank"`
	LocalWorldSize  int               `json:"local_world_size"`
	IP              string            `json:"ip"`
}

type PsReady struct {
	Ready bool `json:"ready"`
}

type KeyValuePair struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type ParallelConfig struct {
	Config string `json:"config"`
}

type NodeCheckpointState struct {
	Step int64 `json:"step"`
}

type DiagnosisReportData struct {
	Name         string            `json:"name"`
	Attribution  string            `json:"attribution"`
	Description  string            `json:"description"`
	Configs      map[string]string `json:"configs"`
}

type Event struct {
	EventType string            `json:"event_type"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels"`
}

// NetworkCheckResult is the payload of its own report kind in the
// network-check round flow: each node reports per-peer success/failure.
type NetworkCheckResult struct {
	PeerNodeID int64   `json:"peer_node_id"`
	Success    bool    `json:"success"`
	ElapsedMS  float64 `json:"elapsed_ms"`
}

// --- Get request payloads ---

type TaskRequest struct {
	DatasetName string `json:"dataset_name"`
	TaskType    string `json:"task_type"`
}

type ShardCheckpointRequest struct {
	DatasetName string `json:"dataset_name"`
}

type ClusterVersionRequest struct {
	Role        string `json:"role"`
	TaskID      int64  `json:"task_id"`
	VersionType string `json:"version_type"`
}

type RunningNodesRequest struct{}

type JoinRendezvousRequest struct {
	Flavour        RendezvousFlavour `json:"flavour"`
	Rank           int               `json:"rank"`
	LocalWorldSize int               `json:"local_world_size"`
	IP             string            `json:"ip"`
}

type WaitingNodeNumRequest struct {
	Flavour RendezvousFlavour `json:"flavour"`
}

type NetworkReadyRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

type StragglerExistRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

type CommWorldRequest struct {
	Flavour RendezvousFlavour `json:"flavour"`
}

type PsNodesRequest struct{}

type TrainingStatusRequest struct{}

type ParallelConfigRequest struct{}

type CheckHardwareResetRequest struct{}

type SyncTrainingPort struct {
	Port int `json:"port"`
}

type ElasticRunConfigRequest struct{}

type HeartBeat struct {
	Timestamp int64 `json:"timestamp"`
}
