package syncer

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/flowsync/internal/browser"
)

const (
	markerMaximumLengthConstant  = 80
	fallbackMarkerLengthConstant = 100
	markerCommentPrefixConstant  = "#"

	verifyReloadMessageConstant     = "reloading workflow for verification"
	verifyPageFailedMessageConstant = "workflow page did not load for verification"
	verifyStepPassedMessageConstant = "step verified"
	verifyStepFailedMessageConstant = "step verification failed: marker not found"
	verifyNoEditorMessageConstant   = "no editor found while verifying step"
	verifyEmptyReadMessageConstant  = "editor content could not be read"
	logFieldMarkerConstant          = "marker"

	clipboardSettlePauseConstant = 300 * time.Millisecond
)

// Scripts open with uppercase constant assignments after the import block;
// those lines are unique per script while the handler entrypoint is not.
var constantAssignmentPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*\s*=\s*\S.*$`)

// UniqueContentMarker extracts a line that identifies the script among its
// siblings. Handler names are useless here because every script defines the
// same entrypoint; module-level constants differ per script and survive the
// editor round trip intact.
func UniqueContentMarker(scriptContent string) string {
	lines := strings.Split(scriptContent, "\n")

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if constantAssignmentPattern.MatchString(trimmedLine) {
			return truncateMarker(trimmedLine, markerMaximumLengthConstant)
		}
	}

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if len(trimmedLine) == 0 || strings.HasPrefix(trimmedLine, markerCommentPrefixConstant) {
			continue
		}
		if strings.Contains(trimmedLine, "=") {
			return truncateMarker(trimmedLine, markerMaximumLengthConstant)
		}
	}

	return truncateMarker(scriptContent, fallbackMarkerLengthConstant)
}

func truncateMarker(marker string, maximumLength int) string {
	runes := []rune(marker)
	if len(runes) <= maximumLength {
		return marker
	}
	return string(runes[:maximumLength])
}

// VerifyWorkflow reloads the workflow's build page and confirms every step's
// editor holds its script by locating the script's unique content marker. It
// reports false when any step fails, leaving the decision to downgrade the
// workflow status to the caller.
func (engine *Engine) VerifyWorkflow(executionContext context.Context, workflow WorkflowConfiguration) bool {
	engine.logger.Debug(verifyReloadMessageConstant, zap.String(logFieldWorkflowIdentifierConstant, workflow.ID))

	if navigationError := engine.GoToWorkflow(executionContext, workflow.ID); navigationError != nil {
		engine.logger.Error(verifyPageFailedMessageConstant, zap.Error(navigationError))
		return false
	}

	allVerified := true
	for _, step := range workflow.Steps {
		if !engine.verifyStep(executionContext, workflow.ID, step) {
			allVerified = false
		}
	}
	return allVerified
}

func (engine *Engine) verifyStep(executionContext context.Context, workflowID string, step StepConfiguration) bool {
	expectedContent, readError := ReadScriptContent(step.ScriptPath, engine.basePath)
	if readError != nil {
		engine.logger.Error(verifyStepFailedMessageConstant,
			zap.String(logFieldStepNameConstant, step.StepName), zap.Error(readError))
		return false
	}

	if closeError := engine.CloseStepPanel(executionContext); closeError != nil {
		return false
	}
	if openError := engine.OpenStep(executionContext, workflowID, step.StepName); openError != nil {
		engine.logger.Error(verifyNoEditorMessageConstant,
			zap.String(logFieldStepNameConstant, step.StepName), zap.Error(openError))
		return false
	}

	handle, locateError := LocateTargetEditor(executionContext, engine.driver)
	if locateError != nil {
		engine.logger.Error(verifyNoEditorMessageConstant, zap.String(logFieldStepNameConstant, step.StepName))
		return false
	}

	actualContent, readbackError := engine.readEditorContent(executionContext, handle)
	if readbackError != nil || len(actualContent) == 0 {
		engine.logger.Error(verifyEmptyReadMessageConstant, zap.String(logFieldStepNameConstant, step.StepName))
		return false
	}

	expectedMarker := UniqueContentMarker(expectedContent)
	if !strings.Contains(actualContent, expectedMarker) {
		engine.logger.Error(verifyStepFailedMessageConstant,
			zap.String(logFieldStepNameConstant, step.StepName),
			zap.String(logFieldMarkerConstant, expectedMarker),
		)
		return false
	}

	engine.logger.Info(verifyStepPassedMessageConstant,
		zap.String(logFieldStepNameConstant, step.StepName),
		zap.String(logFieldMarkerConstant, expectedMarker),
	)
	return true
}

// readEditorContent copies the handle's full editor content out through the
// clipboard. Reading the DOM text directly misses lines virtualized out of
// view, so select-all plus copy is the only complete read.
func (engine *Engine) readEditorContent(executionContext context.Context, handle EditorHandle) (string, error) {
	if clickError := engine.driver.ClickAt(executionContext, handle.CenterX, handle.CenterY); clickError != nil {
		return "", clickError
	}
	if sleepError := engine.driver.Sleep(executionContext, clipboardSettlePauseConstant); sleepError != nil {
		return "", sleepError
	}
	if selectError := engine.driver.PressKeys(executionContext, browser.KeyCombinationSelectAll); selectError != nil {
		return "", selectError
	}
	if copyError := engine.driver.PressKeys(executionContext, browser.KeyCombinationCopy); copyError != nil {
		return "", copyError
	}
	if sleepError := engine.driver.Sleep(executionContext, clipboardSettlePauseConstant); sleepError != nil {
		return "", sleepError
	}
	return engine.driver.ReadClipboard(executionContext)
}
