// Package engine implements the deterministic decision machine that
// selects the program scene from competing local and remote signals.
// The engine owns its mode and intent exclusively: both change only
// inside Tick, which is a pure function of the prior state and one
// immutable signal snapshot. Given the same snapshot and prior state,
// Tick always produces the same transition and intent.
package engine
