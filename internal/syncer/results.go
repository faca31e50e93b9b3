package syncer

// SyncStatus classifies the outcome of a step or workflow sync.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
)

// StepResult records the outcome of pushing one step's script.
type StepResult struct {
	StepName        string     `json:"name"`
	ScriptPath      string     `json:"script_path"`
	Status          SyncStatus `json:"status"`
	Message         string     `json:"message,omitempty"`
	DurationSeconds float64    `json:"duration"`
}

// WorkflowResult records the outcome of syncing one workflow.
type WorkflowResult struct {
	WorkflowKey  string       `json:"workflow"`
	WorkflowID   string       `json:"id"`
	WorkflowName string       `json:"workflow_name"`
	Status       SyncStatus   `json:"status"`
	Error        string       `json:"error,omitempty"`
	Steps        []StepResult `json:"steps"`
}

// DeriveWorkflowStatus folds step outcomes into the workflow status: every
// step failed means failed, any step failed means partial, otherwise success.
func DeriveWorkflowStatus(steps []StepResult) SyncStatus {
	if len(steps) == 0 {
		return SyncStatusSuccess
	}

	failedCount := 0
	skippedCount := 0
	for _, step := range steps {
		switch step.Status {
		case SyncStatusFailed:
			failedCount++
		case SyncStatusSkipped:
			skippedCount++
		}
	}

	switch {
	case skippedCount == len(steps):
		return SyncStatusSkipped
	case failedCount == len(steps):
		return SyncStatusFailed
	case failedCount > 0:
		return SyncStatusPartial
	default:
		return SyncStatusSuccess
	}
}
