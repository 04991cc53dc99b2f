/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package merge

import (
	"github.com/infra-bits/npmup/pkg/gh"
)

// checkState is the aggregated status of one required workflow.
type checkState string

const (
	checkPending checkState = "pending"
	checkSuccess checkState = "success"
	checkFailure checkState = "failure"
	checkMissing checkState = "missing"
)

// Docs for check run statuses and conclusions:
// https://docs.github.com/en/rest/checks/runs?apiVersion=2022-11-28
const (
	statusCompleted = "completed"

	conclusionSuccess = "success"
	// Neutral is sufficient to pass a required check; skipped is not.
	conclusionNeutral = "neutral"
)

// evaluateChecks reduces the check runs reported for a commit to one
// state per required workflow name. Reruns appear newest-first in the
// listing, so the first run seen for a name wins.
func evaluateChecks(required []string, runs []gh.CheckRun) map[string]checkState {
	latest := make(map[string]gh.CheckRun, len(runs))
	for _, run := range runs {
		if _, seen := latest[run.Name]; !seen {
			latest[run.Name] = run
		}
	}

	states := make(map[string]checkState, len(required))
	for _, name := range required {
		run, ok := latest[name]
		switch {
		case !ok:
			states[name] = checkMissing
		case run.Status != statusCompleted:
			states[name] = checkPending
		case run.Conclusion == conclusionSuccess || run.Conclusion == conclusionNeutral:
			states[name] = checkSuccess
		default:
			states[name] = checkFailure
		}
	}
	return states
}
