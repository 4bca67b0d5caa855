package common

import "errors"

// ErrModulePaused is returned by Guard when the module's emergency stop is on.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the emergency-stop flag of named modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects calls into a paused module. A nil view never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
