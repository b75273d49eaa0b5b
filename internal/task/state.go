package task

// CanTransition reports whether a task may move between two states.
// Help requests are created directly in StateCompleted and never pass
// through the queue.
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateRunning
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	case StateCompleted:
		return to == StateRejected
	case StateFailed, StateRejected:
		return false
	default:
		return false
	}
}
