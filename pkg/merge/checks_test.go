/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/infra-bits/npmup/pkg/gh"
)

func TestEvaluateChecks(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		runs     []gh.CheckRun
		want     map[string]checkState
	}{
		{
			name:     "no runs reported",
			required: []string{"ci"},
			runs:     nil,
			want:     map[string]checkState{"ci": checkMissing},
		},
		{
			name:     "queued and in progress are pending",
			required: []string{"ci", "lint"},
			runs: []gh.CheckRun{
				{Name: "ci", Status: "queued"},
				{Name: "lint", Status: "in_progress"},
			},
			want: map[string]checkState{"ci": checkPending, "lint": checkPending},
		},
		{
			name:     "success and neutral pass",
			required: []string{"ci", "lint"},
			runs: []gh.CheckRun{
				{Name: "ci", Status: "completed", Conclusion: "success"},
				{Name: "lint", Status: "completed", Conclusion: "neutral"},
			},
			want: map[string]checkState{"ci": checkSuccess, "lint": checkSuccess},
		},
		{
			name:     "skipped does not pass",
			required: []string{"ci"},
			runs: []gh.CheckRun{
				{Name: "ci", Status: "completed", Conclusion: "skipped"},
			},
			want: map[string]checkState{"ci": checkFailure},
		},
		{
			name:     "failure and timed out fail",
			required: []string{"ci", "lint"},
			runs: []gh.CheckRun{
				{Name: "ci", Status: "completed", Conclusion: "failure"},
				{Name: "lint", Status: "completed", Conclusion: "timed_out"},
			},
			want: map[string]checkState{"ci": checkFailure, "lint": checkFailure},
		},
		{
			name:     "newest rerun wins",
			required: []string{"ci"},
			runs: []gh.CheckRun{
				{Name: "ci", Status: "completed", Conclusion: "success"},
				{Name: "ci", Status: "completed", Conclusion: "failure"},
			},
			want: map[string]checkState{"ci": checkSuccess},
		},
		{
			name:     "unrequired runs ignored",
			required: []string{"ci"},
			runs: []gh.CheckRun{
				{Name: "ci", Status: "completed", Conclusion: "success"},
				{Name: "codecov", Status: "completed", Conclusion: "failure"},
			},
			want: map[string]checkState{"ci": checkSuccess},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateChecks(tt.required, tt.runs)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("evaluateChecks() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
