package syncer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tyemirov/flowsync/internal/browser"
)

const (
	// deployControlProbeConstant finds the leaf element whose exact text is
	// "Deploy"; the workbench renders the control as a nested div rather than
	// a semantic button.
	deployControlProbeConstant = `(() => {
	const leaves = [...document.querySelectorAll('*')].filter((element) =>
		element.children.length === 0 && (element.textContent || '').trim() === 'Deploy');
	if (leaves.length === 0) {
		return JSON.stringify(null);
	}
	const rect = leaves[0].getBoundingClientRect();
	return JSON.stringify({x: rect.left + rect.width / 2, y: rect.top + rect.height / 2});
})()`

	deployPendingMarkerConstant         = "DEPLOY PENDING"
	pendingProximityWindowConstant      = 200
	deployPollIntervalConstant          = 3 * time.Second
	deployListRenderPauseConstant       = 1500 * time.Millisecond
	deployListNavigationTimeoutConstant = 15 * time.Second
	deployClickPauseConstant            = time.Second
	deployButtonClickTimeoutConstant    = 2 * time.Second
	deployFallbackSettlePauseConstant   = 3 * time.Second

	deployTextStrategyNameConstant      = "exact-text control"
	deployAttributeStrategyNameConstant = "data attribute"

	deployingMessageConstant           = "deploying workflow"
	deployOverlayMessageConstant       = "overlay dismissal failed before deploy"
	deployClickedMessageConstant       = "deploy control clicked"
	deployButtonMissingMessageConstant = "deploy control not found"
	deployCompletedMessageConstant     = "deploy completed"
	deployStillPendingMessageConstant  = "deploy still pending after timeout"
	deployPendingWaitMessageConstant   = "deploy pending"
	logFieldWorkflowNameConstant       = "workflow_name"
	logFieldElapsedSecondsConstant     = "elapsed_seconds"
)

// PendingIndicatorNear reports whether the deploy-pending marker appears close
// to the workflow name in the rendered list page text. The list page has no
// stable row structure, so proximity within one row's worth of text is the
// signal that the pending badge belongs to this workflow.
func PendingIndicatorNear(pageText string, workflowName string) bool {
	pendingIndex := strings.Index(pageText, deployPendingMarkerConstant)
	if pendingIndex < 0 {
		return false
	}
	nameIndex := strings.Index(pageText, workflowName)
	if nameIndex < 0 {
		return false
	}
	distance := pendingIndex - nameIndex
	if distance < 0 {
		distance = -distance
	}
	return distance < pendingProximityWindowConstant
}

// Deploy dismisses any open panel and clicks the workflow's Deploy control,
// then waits for the deployment to clear on the list page. It returns false
// without error when the control cannot be found, a driver call misbehaves, or
// the deployment does not finish in time; the caller downgrades the workflow
// status instead of aborting the run. Only context cancellation is an error.
func (engine *Engine) Deploy(executionContext context.Context, workflowName string) (bool, error) {
	engine.logger.Info(deployingMessageConstant, zap.String(logFieldWorkflowNameConstant, workflowName))

	if escapeError := engine.driver.PressKeys(executionContext, browser.KeyCombinationEscape); escapeError != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return false, contextError
		}
		engine.logger.Debug(deployOverlayMessageConstant, zap.Error(escapeError))
	}
	if sleepError := engine.driver.Sleep(executionContext, deployClickPauseConstant); sleepError != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return false, contextError
		}
	}

	strategies := []locatorStrategy{
		{name: deployTextStrategyNameConstant, attempt: func(strategyContext context.Context) bool {
			return engine.probeAndClick(strategyContext, deployControlProbeConstant)
		}},
		{name: deployAttributeStrategyNameConstant, attempt: func(strategyContext context.Context) bool {
			return engine.driver.Click(strategyContext, DeployButtonSelectorConstant, deployButtonClickTimeoutConstant) == nil
		}},
	}

	strategyName, clicked := engine.applyLocatorStrategies(executionContext, strategies)
	if !clicked {
		engine.captureScreenshot(executionContext, "deploy-button-not-found")
		engine.logger.Warn(deployButtonMissingMessageConstant, zap.String(logFieldWorkflowNameConstant, workflowName))
		return false, nil
	}
	engine.logger.Debug(deployClickedMessageConstant, zap.String(logFieldStrategyConstant, strategyName))

	return engine.awaitDeployCompletion(executionContext, workflowName)
}

// awaitDeployCompletion polls the project's workflow list page until the
// pending badge next to the workflow clears. Polling is paced with a rate
// limiter so the list page is fetched at most once per interval.
func (engine *Engine) awaitDeployCompletion(executionContext context.Context, workflowName string) (bool, error) {
	listURL := WorkflowListURL(
		engine.configuration.BaseURL,
		engine.configuration.WorkbenchUsername,
		engine.configuration.WorkbenchProject,
	)
	if len(listURL) == 0 {
		// Legacy accounts have no list page to poll; settle and move on.
		if sleepError := engine.driver.Sleep(executionContext, deployFallbackSettlePauseConstant); sleepError != nil {
			if contextError := executionContext.Err(); contextError != nil {
				return false, contextError
			}
		}
		return true, nil
	}

	pollLimiter := rate.NewLimiter(rate.Every(deployPollIntervalConstant), 1)
	startTime := engine.now()
	deadline := startTime.Add(engine.configuration.Settings.DeployTimeout())

	for engine.now().Before(deadline) {
		if limiterError := pollLimiter.Wait(executionContext); limiterError != nil {
			return false, limiterError
		}

		if navigationError := engine.driver.Navigate(executionContext, listURL, deployListNavigationTimeoutConstant); navigationError != nil {
			continue
		}
		if sleepError := engine.driver.Sleep(executionContext, deployListRenderPauseConstant); sleepError != nil {
			if contextError := executionContext.Err(); contextError != nil {
				return false, contextError
			}
			continue
		}

		pageText, textError := engine.driver.PageText(executionContext)
		if textError != nil {
			continue
		}
		if !PendingIndicatorNear(pageText, workflowName) {
			engine.logger.Info(deployCompletedMessageConstant, zap.String(logFieldWorkflowNameConstant, workflowName))
			return true, nil
		}

		engine.logger.Debug(deployPendingWaitMessageConstant,
			zap.String(logFieldWorkflowNameConstant, workflowName),
			zap.Int(logFieldElapsedSecondsConstant, int(engine.now().Sub(startTime).Seconds())),
		)
	}

	engine.logger.Warn(deployStillPendingMessageConstant, zap.String(logFieldWorkflowNameConstant, workflowName))
	return false, nil
}
