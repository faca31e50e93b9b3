package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/flowsync/internal/browser"
)

const (
	// stepCardProbeTemplateConstant finds the leaf element rendering the step
	// name and walks up to the clickable card containing it. Cards carry
	// step/node classes or a button role a few levels above the text.
	stepCardProbeTemplateConstant = `(() => {
	const stepName = %s;
	const leaves = [...document.querySelectorAll('*')].filter((element) =>
		element.children.length === 0 && (element.textContent || '').trim() === stepName);
	if (leaves.length === 0) {
		return JSON.stringify(null);
	}
	let target = leaves[0];
	let ancestor = leaves[0];
	for (let depth = 0; depth < 6 && ancestor.parentElement; depth++) {
		ancestor = ancestor.parentElement;
		const classes = typeof ancestor.className === 'string' ? ancestor.className : '';
		if (classes.includes('step') || classes.includes('node') || ancestor.getAttribute('role') === 'button') {
			target = ancestor;
			break;
		}
	}
	const rect = target.getBoundingClientRect();
	return JSON.stringify({x: rect.left + rect.width / 2, y: rect.top + rect.height / 2});
})()`

	// panelTabProbeTemplateConstant locates the panel tab whose label matches
	// the step name, falling back to a prefix match because the workbench
	// truncates long names in tab labels.
	panelTabProbeTemplateConstant = `(() => {
	const fullName = %s;
	const truncatedName = %s;
	const candidates = [...document.querySelectorAll("button, [role='tab'], div[class*='tab']")];
	const visible = candidates.filter((element) => {
		const rect = element.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	});
	let match = visible.find((element) => (element.textContent || '').trim() === fullName);
	if (!match) {
		match = visible.find((element) => (element.textContent || '').trim().startsWith(truncatedName));
	}
	if (!match) {
		return JSON.stringify(null);
	}
	const rect = match.getBoundingClientRect();
	return JSON.stringify({x: rect.left + rect.width / 2, y: rect.top + rect.height / 2});
})()`

	// stepContainerProbeTemplateConstant scans the known step-card containers
	// for one rendering the step name, the CSS fallback used when the exact
	// text probe finds nothing.
	stepContainerProbeTemplateConstant = `(() => {
	const stepName = %s;
	const containers = [...document.querySelectorAll(%s)];
	const match = containers.find((element) => (element.textContent || '').includes(stepName));
	if (!match) {
		return JSON.stringify(null);
	}
	const rect = match.getBoundingClientRect();
	return JSON.stringify({x: rect.left + rect.width / 2, y: rect.top + rect.height / 2});
})()`

	textPresentProbeTemplateConstant = `(() => {
	const needle = %s;
	return (document.body ? document.body.innerText : '').includes(needle);
})()`

	// stepPanelProbeTemplateConstant checks that an open config panel renders
	// the step name, falling back to the whole page text because panel layouts
	// vary across workbench versions.
	stepPanelProbeTemplateConstant = `(() => {
	const stepName = %s;
	const panels = [...document.querySelectorAll(%s)];
	if (panels.some((panel) => (panel.textContent || '').includes(stepName))) {
		return true;
	}
	return (document.body ? document.body.innerText : '').includes(stepName);
})()`

	// codeSectionProbeConstant finds the collapsed CODE section header so it
	// can be expanded when no editor widget is visible yet.
	codeSectionProbeConstant = `(() => {
	const leaves = [...document.querySelectorAll('*')].filter((element) =>
		element.children.length === 0 && (element.textContent || '').trim() === 'CODE');
	if (leaves.length === 0) {
		return JSON.stringify(null);
	}
	const rect = leaves[0].getBoundingClientRect();
	return JSON.stringify({x: rect.left + rect.width / 2, y: rect.top + rect.height / 2});
})()`

	tabLabelTruncationLengthConstant = 15

	stepCardClickTimeoutConstant = 3 * time.Second
	panelSwitchPauseConstant     = time.Second
	tabSwitchPauseConstant       = 500 * time.Millisecond
	sectionExpandPauseConstant   = 1500 * time.Millisecond
	panelClosePauseConstant      = 500 * time.Millisecond
	escapeKeyPauseConstant       = 300 * time.Millisecond
	escapeKeyRepeatCountConstant = 3

	canvasClickXConstant = 200.0
	canvasClickYConstant = 600.0

	stepCardTextStrategyNameConstant      = "exact-text card"
	stepCardContainerStrategyNameConstant = "container selector"
	stepCardAttributeStrategyNameConstant = "data attribute"

	logFieldStepNameConstant         = "step_name"
	logFieldStrategyConstant         = "strategy"
	stepCardFoundMessageConstant     = "step card located"
	stepTabMissingMessageConstant    = "panel tab not found, assuming panel already shows the step"
	panelNotSwitchedMessageConstant  = "panel may not have switched to the step"
	codeSectionHiddenMessageConstant = "code editor not visible after expanding the section"
)

type pageCoordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// locatorStrategy is one way of finding and activating a control on the page.
// Strategies are interpreted in declaration order; the first one that succeeds
// wins and later ones are never attempted, so new fallbacks can be appended
// without touching the call sites.
type locatorStrategy struct {
	name    string
	attempt func(executionContext context.Context) bool
}

// applyLocatorStrategies interprets the strategy list in order and returns the
// name of the first strategy that succeeded.
func (engine *Engine) applyLocatorStrategies(executionContext context.Context, strategies []locatorStrategy) (string, bool) {
	for _, strategy := range strategies {
		if strategy.attempt(executionContext) {
			return strategy.name, true
		}
	}
	return "", false
}

// probeAndClick clicks the coordinates produced by a probe expression.
func (engine *Engine) probeAndClick(executionContext context.Context, expression string) bool {
	coordinates, found, probeError := probeCoordinates(executionContext, engine.driver, expression)
	if probeError != nil || !found {
		return false
	}
	return engine.driver.ClickAt(executionContext, coordinates.X, coordinates.Y) == nil
}

// probeAndDoubleClick double-clicks the coordinates produced by a probe
// expression.
func (engine *Engine) probeAndDoubleClick(executionContext context.Context, expression string) bool {
	coordinates, found, probeError := probeCoordinates(executionContext, engine.driver, expression)
	if probeError != nil || !found {
		return false
	}
	return engine.driver.DoubleClickAt(executionContext, coordinates.X, coordinates.Y) == nil
}

// probeCoordinates evaluates a probe expression that returns JSON-encoded page
// coordinates or null when nothing matched.
func probeCoordinates(executionContext context.Context, driver browser.Driver, expression string) (pageCoordinates, bool, error) {
	var encodedCoordinates string
	if evaluateError := driver.Evaluate(executionContext, expression, &encodedCoordinates); evaluateError != nil {
		return pageCoordinates{}, false, evaluateError
	}

	var coordinates *pageCoordinates
	if decodeError := json.Unmarshal([]byte(encodedCoordinates), &coordinates); decodeError != nil {
		return pageCoordinates{}, false, decodeError
	}
	if coordinates == nil {
		return pageCoordinates{}, false, nil
	}
	return *coordinates, true, nil
}

func javaScriptString(value string) string {
	encoded, encodeError := json.Marshal(value)
	if encodeError != nil {
		return `""`
	}
	return string(encoded)
}

func truncateForTabLabel(stepName string) string {
	runes := []rune(stepName)
	if len(runes) <= tabLabelTruncationLengthConstant {
		return stepName
	}
	return string(runes[:tabLabelTruncationLengthConstant])
}

// OpenStep finds the step card by name, opens its panel, and activates the
// matching panel tab so the editor shows this step's code. Tab activation and
// panel confirmation are best-effort because the workbench only renders tabs
// when several steps have been opened.
func (engine *Engine) OpenStep(executionContext context.Context, workflowID string, stepName string) error {
	cardExpression := fmt.Sprintf(stepCardProbeTemplateConstant, javaScriptString(stepName))
	containerExpression := fmt.Sprintf(
		stepContainerProbeTemplateConstant,
		javaScriptString(stepName),
		javaScriptString(StepContainerSelectorConstant),
	)

	strategies := []locatorStrategy{
		{name: stepCardTextStrategyNameConstant, attempt: func(strategyContext context.Context) bool {
			return engine.probeAndDoubleClick(strategyContext, cardExpression)
		}},
		{name: stepCardContainerStrategyNameConstant, attempt: func(strategyContext context.Context) bool {
			return engine.probeAndClick(strategyContext, containerExpression)
		}},
		{name: stepCardAttributeStrategyNameConstant, attempt: func(strategyContext context.Context) bool {
			return engine.driver.Click(strategyContext, StepDataAttributeSelector(stepName), stepCardClickTimeoutConstant) == nil
		}},
	}

	strategyName, clicked := engine.applyLocatorStrategies(executionContext, strategies)
	if !clicked {
		return StepNotFoundError{StepName: stepName, WorkflowID: workflowID}
	}
	engine.logger.Debug(stepCardFoundMessageConstant,
		zap.String(logFieldStepNameConstant, stepName),
		zap.String(logFieldStrategyConstant, strategyName),
	)

	if sleepError := engine.driver.Sleep(executionContext, panelSwitchPauseConstant); sleepError != nil {
		return sleepError
	}

	engine.activateStepTab(executionContext, stepName)
	engine.confirmPanelShowsStep(executionContext, stepName)
	return engine.expandCodeSection(executionContext)
}

func (engine *Engine) activateStepTab(executionContext context.Context, stepName string) {
	tabExpression := fmt.Sprintf(
		panelTabProbeTemplateConstant,
		javaScriptString(stepName),
		javaScriptString(truncateForTabLabel(stepName)),
	)
	tabCoordinates, tabFound, probeError := probeCoordinates(executionContext, engine.driver, tabExpression)
	if probeError != nil || !tabFound {
		engine.logger.Debug(stepTabMissingMessageConstant, zap.String(logFieldStepNameConstant, stepName))
		return
	}
	if clickError := engine.driver.ClickAt(executionContext, tabCoordinates.X, tabCoordinates.Y); clickError != nil {
		engine.logger.Debug(stepTabMissingMessageConstant, zap.String(logFieldStepNameConstant, stepName))
		return
	}
	_ = engine.driver.Sleep(executionContext, tabSwitchPauseConstant)
}

func (engine *Engine) confirmPanelShowsStep(executionContext context.Context, stepName string) {
	panelExpression := fmt.Sprintf(
		stepPanelProbeTemplateConstant,
		javaScriptString(stepName),
		javaScriptString(StepConfigPanelSelectorConstant),
	)
	var stepVisible bool
	if probeError := engine.driver.Evaluate(executionContext, panelExpression, &stepVisible); probeError != nil || !stepVisible {
		engine.logger.Warn(panelNotSwitchedMessageConstant, zap.String(logFieldStepNameConstant, stepName))
	}
}

// expandCodeSection makes the script editor visible, clicking the collapsed
// CODE section header when needed.
func (engine *Engine) expandCodeSection(executionContext context.Context) error {
	if probes, probeError := probeEditors(executionContext, engine.driver); probeError == nil {
		if _, visible := SelectTargetEditor(probes); visible {
			return nil
		}
	}

	sectionCoordinates, sectionFound, probeError := probeCoordinates(executionContext, engine.driver, codeSectionProbeConstant)
	if probeError == nil && sectionFound {
		if clickError := engine.driver.ClickAt(executionContext, sectionCoordinates.X, sectionCoordinates.Y); clickError == nil {
			if sleepError := engine.driver.Sleep(executionContext, sectionExpandPauseConstant); sleepError != nil {
				return sleepError
			}
			if probes, reprobeError := probeEditors(executionContext, engine.driver); reprobeError == nil {
				if _, visible := SelectTargetEditor(probes); visible {
					return nil
				}
			}
		}
	}

	if waitError := engine.driver.WaitVisible(executionContext, CodeEditorSelectorConstant, stepCardClickTimeoutConstant); waitError != nil {
		engine.logger.Warn(codeSectionHiddenMessageConstant)
		engine.captureScreenshot(executionContext, "code-expansion-failed")
	}
	return nil
}

// CloseStepPanel dismisses any open step panel so the next step opens cleanly.
// It tries the panel's close button, then the Escape key, then a click on an
// empty canvas area. Failures are ignored because an already-closed panel is
// the desired state.
func (engine *Engine) CloseStepPanel(executionContext context.Context) error {
	panelClosed := false
	for _, closeSelector := range closePanelSelectorsConstant {
		if clickError := engine.driver.Click(executionContext, closeSelector, panelClosePauseConstant); clickError == nil {
			panelClosed = true
			break
		}
	}

	if !panelClosed {
		for attempt := 0; attempt < escapeKeyRepeatCountConstant; attempt++ {
			if escapeError := engine.driver.PressKeys(executionContext, browser.KeyCombinationEscape); escapeError != nil {
				break
			}
			if sleepError := engine.driver.Sleep(executionContext, escapeKeyPauseConstant); sleepError != nil {
				return sleepError
			}
		}
	}

	_ = engine.driver.ClickAt(executionContext, canvasClickXConstant, canvasClickYConstant)
	return engine.driver.Sleep(executionContext, panelClosePauseConstant)
}
