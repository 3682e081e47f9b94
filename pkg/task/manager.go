// Package task implements the per-dataset shard queue, assignment,
// checkpoint and reassignment-on-failure logic (spec section 4.4).
package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/Ind1x1/dlock/pkg/shard"
	"github.com/rs/zerolog"
)

// Type is the closed set of task kinds a shard can be issued as.
type Type string

const (
	TypeTraining   Type = "TRAINING"
	TypeEvaluation Type = "EVALUATION"
	TypePrediction Type = "PREDICTION"
	TypeWait       Type = "WAIT"
)

// Task is one issued unit of work. TaskID == 0 is the sentinel for "no
// task" (the typed empty reply returned once a dataset is complete or
// unknown).
type Task struct {
	TaskID     int64
	TaskType   Type
	Shard      shard.Shard
	AssignedTo int64
	AssignedAt time.Time
	Deadline   time.Time
}

type dataset struct {
	splitter      *shard.Splitter
	pending       []shard.Shard
	outstanding   map[int64]*Task
	completed     int64
	total         int64
	nextTaskID    int64
	lastTaskStart map[int64]time.Time

	numEpochs   int
	shuffle     bool
	storageType string
}

// Manager owns every dataset's shard queue for the job's lifetime.
type Manager struct {
	mu          sync.Mutex
	datasets    map[string]*dataset
	taskTimeout time.Duration
	logger      zerolog.Logger
}

// NewManager returns an empty Manager. taskTimeout bounds how long an
// issued task may stay outstanding before its shard is silently
// requeued (spec section 4.4, "Failure semantics").
func NewManager(taskTimeout time.Duration) *Manager {
	return &Manager{
		datasets:    make(map[string]*dataset),
		taskTimeout: taskTimeout,
		logger:      log.WithComponent("task_manager"),
	}
}

// CreateDataset instantiates the splitter for (size, batch_size,
// epochs, shuffle, storage_type) and rebuilds the pending queue.
// Overwrites any prior dataset of the same name.
func (m *Manager) CreateDataset(name string, size, batchSize int64, numEpochs int, shuffle bool, storageType string, minibatchesPerShard int) {
	sp := shard.NewSplitter(name, size, batchSize, minibatchesPerShard)
	shards := sp.Split()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[name] = &dataset{
		splitter:      sp,
		pending:       shards,
		outstanding:   make(map[int64]*Task),
		total:         int64(len(shards)),
		lastTaskStart: make(map[int64]time.Time),
		numEpochs:     numEpochs,
		shuffle:       shuffle,
		storageType:   storageType,
	}

	m.logger.Info().
		Str("dataset", name).
		Int64("total_shards", int64(len(shards))).
		Msg("dataset created")
}

// sweepDeadlines requeues any outstanding task whose deadline has
// passed. Caller must hold m.mu.
func sweepDeadlines(ds *dataset) {
	now := time.Now()
	for id, t := range ds.outstanding {
		if now.After(t.Deadline) {
			ds.pending = append(ds.pending, t.Shard)
			delete(ds.outstanding, id)
		}
	}
}

// GetTask returns the next pending shard for name, stamped with node
// and the current time, or a WAIT task if the queue is momentarily
// empty but shards are still outstanding, or an empty Task once the
// dataset is fully complete (or unknown). Task assignment is atomic
// with queue removal and outstanding-set insertion.
func (m *Manager) GetTask(name string, nodeID int64, taskType Type) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[name]
	if !ok {
		return Task{}
	}

	sweepDeadlines(ds)
	ds.lastTaskStart[nodeID] = time.Now()

	if len(ds.pending) > 0 {
		sh := ds.pending[0]
		ds.pending = ds.pending[1:]
		ds.nextTaskID++
		t := Task{
			TaskID:     ds.nextTaskID,
			TaskType:   taskType,
			Shard:      sh,
			AssignedTo: nodeID,
			AssignedAt: time.Now(),
			Deadline:   time.Now().Add(m.taskTimeout),
		}
		ds.outstanding[t.TaskID] = &t
		return t
	}

	if len(ds.outstanding) > 0 {
		return Task{TaskType: TypeWait}
	}

	return Task{}
}

// ReportTaskResult marks taskID complete on success (errMsg == ""), or
// requeues its shard at the front of the pending queue on failure, so
// the next GetTask reassigns that same shard. A task_id not
// currently outstanding is ignored and reports false, with no state
// change — this makes a repeated report idempotent.
func (m *Manager) ReportTaskResult(name string, taskID int64, errMsg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[name]
	if !ok {
		return false
	}
	t, ok := ds.outstanding[taskID]
	if !ok {
		return false
	}
	delete(ds.outstanding, taskID)

	if errMsg == "" {
		ds.completed++
	} else {
		ds.pending = append([]shard.Shard{t.Shard}, ds.pending...)
		m.logger.Warn().Str("dataset", name).Int64("task_id", taskID).Str("error", errMsg).Msg("task failed, shard requeued")
	}
	return true
}

// OnNodeFailed reclaims every outstanding task assigned to nodeID
// across all datasets. This is the callback hook the Job Manager
// invokes on node failure (spec section 9, cyclic reference redesign)
// rather than the Task Manager holding a back-pointer to the Job
// Manager.
func (m *Manager) OnNodeFailed(nodeID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ds := range m.datasets {
		for id, t := range ds.outstanding {
			if t.AssignedTo == nodeID {
				ds.pending = append(ds.pending, t.Shard)
				delete(ds.outstanding, id)
				m.logger.Info().Str("dataset", name).Int64("task_id", id).Int64("node_id", nodeID).Msg("shard reclaimed from failed node")
			}
		}
	}
}

// Stats reports the three-way split the universal invariant in
// spec.md section 8 is stated over.
type Stats struct {
	Pending     int64
	Outstanding int64
	Completed   int64
	Total       int64
}

// Stats returns the current queue split for name, or the zero value if
// the dataset is unknown.
func (m *Manager) Stats(name string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[name]
	if !ok {
		return Stats{}
	}
	return Stats{
		Pending:     int64(len(ds.pending)),
		Outstanding: int64(len(ds.outstanding)),
		Completed:   ds.completed,
		Total:       ds.total,
	}
}

type checkpointTask struct {
	TaskID     int64       `json:"task_id"`
	Shard      shard.Shard `json:"shard"`
	AssignedTo int64       `json:"assigned_to"`
	Deadline   time.Time   `json:"deadline"`
}

type checkpointPayload struct {
	Pending     []shard.Shard    `json:"pending"`
	Outstanding []checkpointTask `json:"outstanding"`
	Completed   int64            `json:"completed"`
	Total       int64            `json:"total"`
	NextTaskID  int64            `json:"next_task_id"`
}

// Checkpoint serialises the dataset's (pending_shards,
// outstanding_tasks_with_deadlines, completion_marker) into a string
// payload workers fetch and hold; the master replays it back via
// Restore (spec section 6, "Persisted state").
func (m *Manager) Checkpoint(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[name]
	if !ok {
		return "", fmt.Errorf("task: unknown dataset %q", name)
	}

	cp := checkpointPayload{
		Pending:    append([]shard.Shard(nil), ds.pending...),
		Completed:  ds.completed,
		Total:      ds.total,
		NextTaskID: ds.nextTaskID,
	}
	for id, t := range ds.outstanding {
		cp.Outstanding = append(cp.Outstanding, checkpointTask{
			TaskID:     id,
			Shard:      t.Shard,
			AssignedTo: t.AssignedTo,
			Deadline:   t.Deadline,
		})
	}

	b, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("task: checkpoint: %w", err)
	}
	return string(b), nil
}

// Restore ingests a Checkpoint payload and rebuilds name's queue.
func (m *Manager) Restore(name, payload string) error {
	var cp checkpointPayload
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return fmt.Errorf("task: restore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.datasets[name]
	if !ok {
		ds = &dataset{outstanding: make(map[int64]*Task), lastTaskStart: make(map[int64]time.Time)}
		m.datasets[name] = ds
	}

	ds.pending = append([]shard.Shard(nil), cp.Pending...)
	ds.outstanding = make(map[int64]*Task, len(cp.Outstanding))
	for _, t := range cp.Outstanding {
		ds.outstanding[t.TaskID] = &Task{TaskID: t.TaskID, Shard: t.Shard, AssignedTo: t.AssignedTo, Deadline: t.Deadline}
	}
	ds.completed = cp.Completed
	ds.total = cp.Total
	ds.nextTaskID = cp.NextTaskID
	return nil
}
