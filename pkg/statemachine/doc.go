// Package statemachine provides a small generic finite state machine.
//
// States and events are any comparable types, usually string-based enums:
//
//	type mode string
//	type event string
//
//	m := statemachine.MustNew[mode, event]("idle",
//		statemachine.WithTransition[mode, event]("idle", "selecting", "begin",
//			statemachine.WithGuard[mode, event](isActive)),
//	)
//	err := m.Fire(ctx, "begin", sub)
//
// Guards decide whether a transition may run, actions perform side effects
// and can abort it, hooks observe the result. Fire returns
// *ErrNoTransitionAvailable when nothing is registered for the current state
// and event, and *ErrTransitionRejected when guards blocked every candidate.
package statemachine
