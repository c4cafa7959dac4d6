// Package txn provides the undo journal used to roll back multi-step
// settlement operations. Each completed step records a compensating action;
// on failure the journal unwinds them in reverse, so no partial settlement
// remains visible.
package txn

// Journal accumulates compensating actions for one operation. It is not safe
// for concurrent use; operations are already serialized by the engine guard.
type Journal struct {
	undos []func()
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Record appends a compensating action for a completed step.
func (j *Journal) Record(undo func()) {
	j.undos = append(j.undos, undo)
}

// Rollback runs all recorded actions in reverse order and clears the journal.
func (j *Journal) Rollback() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}

// Commit discards the recorded actions; the operation's effects stand.
func (j *Journal) Commit() {
	j.undos = nil
}

// Len returns the number of pending compensating actions.
func (j *Journal) Len() int {
	return len(j.undos)
}
