package common

import "errors"

// ErrModulePaused is returned when an operational pause switch is engaged
// for the named module.
var ErrModulePaused = errors.New("module paused")

// Module names accepted by the pause guard.
const (
	ModuleIntents    = "intents"
	ModuleOrders     = "orders"
	ModuleSettlement = "settlement"
)

// PauseView exposes the operational pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the module is paused. A nil view or an
// empty module name always passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
