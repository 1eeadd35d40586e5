// Package projection implements the in-memory Game aggregate: the
// Challenge/Flag/User/Submission/Board entities of §3 with their derived
// fields, and the four lifecycle operations of §4.2 that keep those derived
// fields consistent with a monotonically growing submission log.
package projection

// Lifecycle is satisfied by every projection entity and collection driven
// by Game's four lifecycle operations. Entities that don't care about a
// given hook implement it as a no-op, favoring small-interface composition
// over one monolithic update method.
type Lifecycle interface {
	OnTickChange()
	OnScoreboardReset()
	OnScoreboardUpdate(sub *Submission, inBatch bool)
	OnScoreboardBatchUpdateDone()
}

// Logger matches Game's expected logging callback: level, module, message.
// The reducer/worker wire this to internal/logging's logrus logger.
type Logger func(level, module, message string)
