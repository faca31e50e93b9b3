package syncer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/flowsync/internal/syncer"
)

func TestDeriveWorkflowStatus(testInstance *testing.T) {
	success := syncer.StepResult{Status: syncer.SyncStatusSuccess}
	failed := syncer.StepResult{Status: syncer.SyncStatusFailed}
	skipped := syncer.StepResult{Status: syncer.SyncStatusSkipped}

	testCases := []struct {
		name           string
		steps          []syncer.StepResult
		expectedStatus syncer.SyncStatus
	}{
		{name: "all_success", steps: []syncer.StepResult{success, success}, expectedStatus: syncer.SyncStatusSuccess},
		{name: "all_failed", steps: []syncer.StepResult{failed, failed}, expectedStatus: syncer.SyncStatusFailed},
		{name: "mixed_is_partial", steps: []syncer.StepResult{success, failed}, expectedStatus: syncer.SyncStatusPartial},
		{name: "all_skipped", steps: []syncer.StepResult{skipped, skipped}, expectedStatus: syncer.SyncStatusSkipped},
		{name: "no_steps", steps: nil, expectedStatus: syncer.SyncStatusSuccess},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectedStatus, syncer.DeriveWorkflowStatus(testCase.steps))
		})
	}
}
