// Package syncer implements the deployment engine that pushes locally edited
// scripts into the hosted workflow editor, verifies the result, and triggers
// remote deployments.
package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/flowsync/internal/browser"
)

const (
	dryRunStepMessageConstant           = "Dry run"
	stepUpdatedMessageConstant          = "Updated"
	syncingStepMessageConstant          = "syncing step"
	stepRetryMessageConstant            = "retrying step"
	workflowSyncStartedMessageConstant  = "syncing workflow"
	workflowDeployedMessageConstant     = "workflow deployed"
	workflowNotDeployedMessageConstant  = "workflow may not be deployed"
	verificationStartedMessageConstant  = "verifying deployment"
	verificationPassedMessageConstant   = "all steps verified"
	verificationFailedMessageConstant   = "verification failed, some steps may not have saved"
	workflowSyncFailedMessageConstant   = "workflow sync failed"
	clipboardClearFailedMessageConstant = "clearing the clipboard failed"
	screenshotFailedMessageConstant     = "screenshot capture failed"
	screenshotSavedMessageConstant      = "screenshot saved"

	logFieldWorkflowKeyConstant    = "workflow_key"
	logFieldAttemptConstant        = "attempt"
	logFieldScreenshotPathConstant = "path"

	screenshotTimestampLayoutConstant  = "20060102-150405"
	screenshotFileTemplateConstant     = "%s-%s.png"
	screenshotDirectoryPermissionConst = 0o755
	screenshotFilePermissionConstant   = 0o644
)

// Engine orchestrates deployment runs over an abstract browser driver. The
// driver is injected so the engine logic is testable without a browser.
type Engine struct {
	configuration    *Configuration
	driver           browser.Driver
	logger           *zap.Logger
	basePath         string
	dryRun           bool
	screenshotAlways bool
	now              func() time.Time
}

// EngineOptions configures a deployment engine.
type EngineOptions struct {
	Configuration    *Configuration
	Driver           browser.Driver
	Logger           *zap.Logger
	BasePath         string
	DryRun           bool
	ScreenshotAlways bool
	// Now overrides the engine clock; nil means time.Now.
	Now func() time.Time
}

// NewEngine builds a deployment engine from the provided options.
func NewEngine(options EngineOptions) *Engine {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := options.Now
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		configuration:    options.Configuration,
		driver:           options.Driver,
		logger:           logger,
		basePath:         options.BasePath,
		dryRun:           options.DryRun,
		screenshotAlways: options.ScreenshotAlways,
		now:              clock,
	}
}

// SyncAll syncs the selected workflows in deterministic key order and returns
// one result per workflow. An empty key list means every configured workflow.
func (engine *Engine) SyncAll(executionContext context.Context, workflowKeys []string) ([]WorkflowResult, error) {
	selectedKeys := workflowKeys
	if len(selectedKeys) == 0 {
		selectedKeys = engine.configuration.WorkflowKeys()
	}

	results := make([]WorkflowResult, 0, len(selectedKeys))
	for _, workflowKey := range selectedKeys {
		if contextError := executionContext.Err(); contextError != nil {
			return results, contextError
		}
		workflowResult, syncError := engine.SyncWorkflow(executionContext, workflowKey)
		if syncError != nil {
			return results, syncError
		}
		results = append(results, workflowResult)
	}
	return results, nil
}

// SyncWorkflow pushes every step of one workflow, deploys it, and verifies the
// deployment. Step failures downgrade the workflow status instead of aborting;
// only unknown workflow keys and context cancellation surface as errors.
func (engine *Engine) SyncWorkflow(executionContext context.Context, workflowKey string) (WorkflowResult, error) {
	workflow, lookupError := engine.configuration.Workflow(workflowKey)
	if lookupError != nil {
		return WorkflowResult{}, lookupError
	}

	engine.logger.Info(workflowSyncStartedMessageConstant,
		zap.String(logFieldWorkflowKeyConstant, workflowKey),
		zap.String(logFieldWorkflowNameConstant, workflow.Name),
	)

	result := WorkflowResult{
		WorkflowKey:  workflowKey,
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Status:       SyncStatusSuccess,
	}

	if engine.dryRun {
		for _, step := range workflow.Steps {
			result.Steps = append(result.Steps, StepResult{
				StepName:   step.StepName,
				ScriptPath: step.ScriptPath,
				Status:     SyncStatusSkipped,
				Message:    dryRunStepMessageConstant,
			})
		}
		result.Status = SyncStatusSkipped
		return result, nil
	}

	if navigationError := engine.GoToWorkflow(executionContext, workflow.ID); navigationError != nil {
		result.Status = SyncStatusFailed
		result.Error = navigationError.Error()
		engine.logger.Error(workflowSyncFailedMessageConstant,
			zap.String(logFieldWorkflowKeyConstant, workflowKey), zap.Error(navigationError))
		return result, nil
	}

	for _, step := range workflow.Steps {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		result.Steps = append(result.Steps, engine.syncStep(executionContext, workflow.ID, step))
	}
	result.Status = DeriveWorkflowStatus(result.Steps)

	if result.Status == SyncStatusSuccess || result.Status == SyncStatusPartial {
		deployed, deployError := engine.Deploy(executionContext, workflow.Name)
		if deployError != nil {
			return result, deployError
		}
		if deployed {
			engine.logger.Info(workflowDeployedMessageConstant, zap.String(logFieldWorkflowKeyConstant, workflowKey))
			engine.logger.Info(verificationStartedMessageConstant, zap.String(logFieldWorkflowKeyConstant, workflowKey))
			if engine.VerifyWorkflow(executionContext, workflow) {
				engine.logger.Info(verificationPassedMessageConstant, zap.String(logFieldWorkflowKeyConstant, workflowKey))
			} else {
				engine.logger.Warn(verificationFailedMessageConstant, zap.String(logFieldWorkflowKeyConstant, workflowKey))
				result.Status = SyncStatusPartial
			}
		} else {
			engine.logger.Warn(workflowNotDeployedMessageConstant, zap.String(logFieldWorkflowKeyConstant, workflowKey))
			result.Status = SyncStatusPartial
		}
	}

	return result, nil
}

// syncStep pushes one step's script, retrying transient failures up to the
// configured attempt count.
func (engine *Engine) syncStep(executionContext context.Context, workflowID string, step StepConfiguration) StepResult {
	startTime := engine.now()
	engine.logger.Info(syncingStepMessageConstant, zap.String(logFieldStepNameConstant, step.StepName))

	maxAttempts := engine.configuration.Settings.MaxRetryCount
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastError error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if contextError := executionContext.Err(); contextError != nil {
			lastError = contextError
			break
		}

		lastError = engine.pushStepOnce(executionContext, workflowID, step)
		if lastError == nil {
			return StepResult{
				StepName:        step.StepName,
				ScriptPath:      step.ScriptPath,
				Status:          SyncStatusSuccess,
				Message:         stepUpdatedMessageConstant,
				DurationSeconds: engine.now().Sub(startTime).Seconds(),
			}
		}

		if attempt < maxAttempts {
			engine.logger.Warn(stepRetryMessageConstant,
				zap.String(logFieldStepNameConstant, step.StepName),
				zap.Int(logFieldAttemptConstant, attempt),
				zap.Error(lastError),
			)
			if sleepError := engine.driver.Sleep(executionContext, engine.configuration.Settings.RetryDelay()); sleepError != nil {
				lastError = sleepError
				break
			}
		}
	}

	engine.captureFailureScreenshot(executionContext, "failed-"+step.StepName)
	return StepResult{
		StepName:        step.StepName,
		ScriptPath:      step.ScriptPath,
		Status:          SyncStatusFailed,
		Message:         lastError.Error(),
		DurationSeconds: engine.now().Sub(startTime).Seconds(),
	}
}

// pushStepOnce performs a single attempt at replacing one step's code.
func (engine *Engine) pushStepOnce(executionContext context.Context, workflowID string, step StepConfiguration) error {
	scriptContent, readError := ReadScriptContent(step.ScriptPath, engine.basePath)
	if readError != nil {
		return readError
	}

	if closeError := engine.CloseStepPanel(executionContext); closeError != nil {
		return closeError
	}
	if openError := engine.OpenStep(executionContext, workflowID, step.StepName); openError != nil {
		return openError
	}

	if engine.screenshotAlways {
		engine.captureScreenshot(executionContext, "before-"+step.StepName)
	}

	handle, locateError := LocateTargetEditor(executionContext, engine.driver)
	if locateError != nil {
		return locateError
	}
	if replaceError := engine.ReplaceCode(executionContext, handle, scriptContent); replaceError != nil {
		return replaceError
	}
	if saveError := engine.AwaitSave(executionContext); saveError != nil {
		return saveError
	}

	if engine.screenshotAlways {
		engine.captureScreenshot(executionContext, "after-"+step.StepName)
	}
	return nil
}

// captureScreenshot writes a timestamped page screenshot into the configured
// directory. Failures are logged, never propagated.
func (engine *Engine) captureScreenshot(executionContext context.Context, name string) {
	imageBytes, captureError := engine.driver.CaptureScreenshot(executionContext)
	if captureError != nil {
		engine.logger.Warn(screenshotFailedMessageConstant, zap.Error(captureError))
		return
	}

	screenshotDirectory := engine.configuration.Settings.ScreenshotPath
	if directoryError := os.MkdirAll(screenshotDirectory, screenshotDirectoryPermissionConst); directoryError != nil {
		engine.logger.Warn(screenshotFailedMessageConstant, zap.Error(directoryError))
		return
	}

	fileName := fmt.Sprintf(screenshotFileTemplateConstant, engine.now().Format(screenshotTimestampLayoutConstant), name)
	filePath := filepath.Join(screenshotDirectory, fileName)
	if writeError := os.WriteFile(filePath, imageBytes, screenshotFilePermissionConstant); writeError != nil {
		engine.logger.Warn(screenshotFailedMessageConstant, zap.Error(writeError))
		return
	}
	engine.logger.Debug(screenshotSavedMessageConstant, zap.String(logFieldScreenshotPathConstant, filePath))
}

// captureFailureScreenshot captures a screenshot when failure screenshots are
// enabled in the settings.
func (engine *Engine) captureFailureScreenshot(executionContext context.Context, name string) {
	if !engine.configuration.Settings.ScreenshotOnFailure {
		return
	}
	engine.captureScreenshot(executionContext, name)
}
