// Package clusterversion tracks the agreed checkpoint generation per
// (role, task_id, version_type), used by elastic-PS mode to agree on a
// restart generation (spec section 4.6). Allreduce-mode jobs never
// touch this service.
package clusterversion

import "sync"

// Role is the closed set of participants a version can be tracked for.
type Role string

const (
	RoleWorker Role = "WORKER"
	RolePS     Role = "PS"
)

type key struct {
	role        Role
	taskID      int64
	versionType string
}

// Service is a flat (role, task_id, version_type) -> int table.
type Service struct {
	mu       sync.RWMutex
	versions map[key]int64
}

// New returns an empty Service.
func New() *Service {
	return &Service{versions: make(map[key]int64)}
}

// Get returns the stored version, or 0 if absent.
func (s *Service) Get(role Role, taskID int64, versionType string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[key{role, taskID, versionType}]
}

// Update overwrites the stored version.
func (s *Service) Update(role Role, taskID int64, versionType string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key{role, taskID, versionType}] = version
}
