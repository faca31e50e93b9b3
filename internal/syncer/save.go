package syncer

import (
	"context"
	"fmt"
	"time"
)

const (
	savingIndicatorAppearTimeout    = 2 * time.Second
	savingIndicatorDisappearTimeout = 10 * time.Second
	savedIndicatorTimeoutConstant   = 3 * time.Second
	savingIndicatorPollInterval     = 500 * time.Millisecond

	savingInProgressMessageConstant = "save in progress"
	saveConfirmedMessageConstant    = "save indicator found"
	saveAssumedMessageConstant      = "no save indicator found, assuming saved"
	saveStuckReasonConstant         = "saving indicator did not clear"

	savingIndicatorProbeTemplateConstant = `!!document.querySelector(%s)`
)

// AwaitSave waits for the workbench autosave cycle after the save shortcut.
// The indicators are optional: the workbench does not always render them, so
// their absence falls back to a fixed settle pause and verification catches any
// save that silently failed. A saving indicator that appears and never clears
// is a SaveError, since the workbench is telling us the save is still running.
func (engine *Engine) AwaitSave(executionContext context.Context) error {
	indicatorAppeared := engine.awaitSavingIndicator(executionContext, true, savingIndicatorAppearTimeout)
	if indicatorAppeared {
		engine.logger.Debug(savingInProgressMessageConstant)
		if !engine.awaitSavingIndicator(executionContext, false, savingIndicatorDisappearTimeout) {
			return SaveError{Reason: saveStuckReasonConstant}
		}
	}

	if waitError := engine.driver.WaitVisible(executionContext, SavedIndicatorSelectorConstant, savedIndicatorTimeoutConstant); waitError == nil {
		engine.logger.Debug(saveConfirmedMessageConstant)
		return nil
	}

	engine.logger.Debug(saveAssumedMessageConstant)
	return engine.driver.Sleep(executionContext, engine.configuration.Settings.AutosaveWait())
}

// awaitSavingIndicator polls for the saving indicator to reach the wanted
// presence state and reports whether it did before the timeout.
func (engine *Engine) awaitSavingIndicator(executionContext context.Context, wantPresent bool, timeout time.Duration) bool {
	probeExpression := fmt.Sprintf(savingIndicatorProbeTemplateConstant, javaScriptString(SavingIndicatorSelectorConstant))
	deadline := engine.now().Add(timeout)
	for {
		var indicatorPresent bool
		if probeError := engine.driver.Evaluate(executionContext, probeExpression, &indicatorPresent); probeError == nil && indicatorPresent == wantPresent {
			return true
		}
		if !engine.now().Before(deadline) {
			return false
		}
		if sleepError := engine.driver.Sleep(executionContext, savingIndicatorPollInterval); sleepError != nil {
			return false
		}
	}
}
