/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package merge

import (
	"errors"
	"fmt"
)

// ErrMergeFailed marks the one terminal failure the orchestrator cannot
// compensate for: the merge call itself failing after every required
// check passed. The pull request is left open for manual intervention.
var ErrMergeFailed = errors.New("merge failed after checks passed")

// OrchestrationError is an internal precondition violation, such as
// running the state machine with no required workflows or committing
// onto a branch that was never created.
type OrchestrationError struct {
	Reason string
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration: %s", e.Reason)
}
