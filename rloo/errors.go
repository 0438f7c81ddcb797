package rloo

import "errors"

var (
	// ErrShuffleRequired rejects multi-epoch runs whose data source replays
	// every epoch in the same order.
	ErrShuffleRequired = errors.New("max_epochs > 1 requires a data source with shuffled restart")

	// ErrStateMismatch reports that workers restored different training state.
	ErrStateMismatch = errors.New("restored training state differs across workers")

	// ErrSingletonGroup reports a prompt group of size one under the
	// reject singleton policy.
	ErrSingletonGroup = errors.New("RLOO baseline undefined for a prompt group of size 1")

	// ErrShapeMismatch reports record fields whose leading dimensions disagree.
	ErrShapeMismatch = errors.New("shape mismatch")
)
