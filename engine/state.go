package engine

import (
	"sync"

	logger "github.com/sirupsen/logrus"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSuspended Status = "SUSPENDED"
)

// State is the engine's suspend/resume switch. Suspension stops
// settlement broadcasts only; recording of redemptions, deposits and
// chain events continues so a resume can settle the backlog.
type State struct {
	mu     sync.Mutex
	status Status
	reason string
}

func NewState() *State {
	return &State{status: StatusRunning}
}

func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRunning
}

// Suspend records the first reason; repeated suspensions keep it.
func (s *State) Suspend(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusSuspended {
		return
	}
	s.status = StatusSuspended
	s.reason = reason
	logger.WithField("reason", reason).Warn("engine suspended")
}

func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return
	}
	s.status = StatusRunning
	s.reason = ""
	logger.Info("engine resumed")
}

func (s *State) Snapshot() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.reason
}
