package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	navigationTimeoutConstant     = 60 * time.Second
	pageRenderPauseConstant       = 5 * time.Second
	buildPageProbeTimeoutConstant = 15 * time.Second
	buildPageProbeIntervalConst   = time.Second

	deployButtonTextConstant = "Deploy"

	workflowLoadTimeoutTemplateConstant  = "timeout loading workflow %s"
	buildPageNotLoadedTemplateConstant   = "build page not loaded for workflow %s"
	navigatingToWorkflowMessageConstant  = "navigating to workflow"
	buildPageLoadedMessageConstant       = "build page loaded"
	logFieldWorkflowIdentifierConstant   = "workflow_id"
	logFieldDestinationAddressConstant   = "url"
	navigationScreenshotPrefixTimeout    = "timeout-"
	navigationScreenshotPrefixNavigation = "nav-failed-"
)

// GoToWorkflow opens the workflow's build page and waits for it to finish
// rendering. The page is considered ready once the Deploy control appears.
func (engine *Engine) GoToWorkflow(executionContext context.Context, workflowID string) error {
	destinationURL := WorkflowEditURL(
		engine.configuration.BaseURL,
		engine.configuration.WorkbenchUsername,
		engine.configuration.WorkbenchProject,
		workflowID,
	)
	engine.logger.Debug(navigatingToWorkflowMessageConstant,
		zap.String(logFieldWorkflowIdentifierConstant, workflowID),
		zap.String(logFieldDestinationAddressConstant, destinationURL),
	)

	if navigationError := engine.driver.Navigate(executionContext, destinationURL, navigationTimeoutConstant); navigationError != nil {
		engine.captureFailureScreenshot(executionContext, navigationScreenshotPrefixTimeout+workflowID)
		return NavigationError{Reason: fmt.Sprintf(workflowLoadTimeoutTemplateConstant, workflowID)}
	}
	if sleepError := engine.driver.Sleep(executionContext, pageRenderPauseConstant); sleepError != nil {
		return sleepError
	}

	if readyError := engine.awaitPageText(executionContext, deployButtonTextConstant, buildPageProbeTimeoutConstant); readyError != nil {
		engine.captureFailureScreenshot(executionContext, navigationScreenshotPrefixNavigation+workflowID)
		return NavigationError{Reason: fmt.Sprintf(buildPageNotLoadedTemplateConstant, workflowID)}
	}
	engine.logger.Debug(buildPageLoadedMessageConstant, zap.String(logFieldWorkflowIdentifierConstant, workflowID))

	if engine.screenshotAlways {
		engine.captureScreenshot(executionContext, "workflow-"+workflowID)
	}
	return nil
}

// awaitPageText polls the rendered page text until the needle appears.
func (engine *Engine) awaitPageText(executionContext context.Context, needle string, timeout time.Duration) error {
	presenceExpression := fmt.Sprintf(textPresentProbeTemplateConstant, javaScriptString(needle))
	deadline := engine.now().Add(timeout)
	for {
		var textPresent bool
		if probeError := engine.driver.Evaluate(executionContext, presenceExpression, &textPresent); probeError == nil && textPresent {
			return nil
		}
		if !engine.now().Before(deadline) {
			return fmt.Errorf("text %q not found on the page", needle)
		}
		if sleepError := engine.driver.Sleep(executionContext, buildPageProbeIntervalConst); sleepError != nil {
			return sleepError
		}
	}
}
