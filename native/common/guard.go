package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned by mutating entry points of a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause state of modules by name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is paused. A nil view never
// pauses.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is an operator controlled PauseView.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{paused: make(map[string]bool)}
}

// Set pauses or resumes module.
func (s *PauseSwitch) Set(module string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[module] = true
		return
	}
	delete(s.paused, module)
}

func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}
