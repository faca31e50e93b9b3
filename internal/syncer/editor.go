package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tyemirov/flowsync/internal/browser"
)

const (
	editorProbeExpressionConstant = `(() => {
	const selectors = ['.monaco-editor', '.cm-editor', '.CodeMirror'];
	const probes = [];
	selectors.forEach((selector) => {
		document.querySelectorAll(selector).forEach((editor, index) => {
			const rect = editor.getBoundingClientRect();
			const style = window.getComputedStyle(editor);
			probes.push({
				selector: selector,
				index: index,
				width: rect.width,
				height: rect.height,
				top: rect.top,
				left: rect.left,
				display: style.display,
				visibility: style.visibility
			});
		});
	});
	return JSON.stringify(probes);
})()`

	minimumEditorWidthConstant  = 100.0
	minimumEditorHeightConstant = 100.0
	hiddenDisplayValueConstant  = "none"
	hiddenVisibilityConstant    = "hidden"

	deployHeaderTemplateConstant = "# Deployed by flowsync\n# Timestamp: %s\n\n"
	deployTimestampLayoutConst   = "2006-01-02T15:04:05Z"

	clipboardClearContentConstant = ""

	editorClickPauseConstant = 500 * time.Millisecond
	keystrokePauseConstant   = 300 * time.Millisecond

	noVisibleEditorMessageConstant   = "no visible code editor on the page"
	editorProbeFailedTemplateConst   = "editor probe failed: %v"
	editorProbeDecodeTemplateConst   = "editor probe returned malformed data: %v"
	clipboardWriteFailedMessageConst = "writing script to the clipboard failed"
	pasteFailedMessageConstant       = "pasting script into the editor failed"
	selectAllFailedMessageConstant   = "selecting existing editor content failed"
)

// EditorProbe is the measured geometry of one editor widget on the page.
type EditorProbe struct {
	Selector   string  `json:"selector"`
	Index      int     `json:"index"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Top        float64 `json:"top"`
	Left       float64 `json:"left"`
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
}

// EditorHandle identifies the editor widget chosen as the update target. The
// handle carries everything needed to click the widget without tagging the DOM.
type EditorHandle struct {
	Selector string
	Index    int
	Height   float64
	CenterX  float64
	CenterY  float64
}

// probeEditors measures every editor widget currently in the document.
func probeEditors(executionContext context.Context, driver browser.Driver) ([]EditorProbe, error) {
	var encodedProbes string
	if evaluateError := driver.Evaluate(executionContext, editorProbeExpressionConstant, &encodedProbes); evaluateError != nil {
		return nil, fmt.Errorf(editorProbeFailedTemplateConst, evaluateError)
	}

	var probes []EditorProbe
	if decodeError := json.Unmarshal([]byte(encodedProbes), &probes); decodeError != nil {
		return nil, fmt.Errorf(editorProbeDecodeTemplateConst, decodeError)
	}
	return probes, nil
}

// editorEligible reports whether a probed widget is large enough and rendered.
// A negative top does not disqualify a widget because editors inside scrollable
// panels can sit above the viewport while still being interactable.
func editorEligible(probe EditorProbe) bool {
	return probe.Width > minimumEditorWidthConstant &&
		probe.Height > minimumEditorHeightConstant &&
		probe.Display != hiddenDisplayValueConstant &&
		probe.Visibility != hiddenVisibilityConstant
}

// SelectTargetEditor picks the tallest eligible editor widget. The workbench
// renders several editors at once and the script editor is always the tallest;
// smaller ones belong to configuration panels and must never receive the paste.
func SelectTargetEditor(probes []EditorProbe) (EditorHandle, bool) {
	var bestHandle EditorHandle
	found := false
	for _, probe := range probes {
		if !editorEligible(probe) {
			continue
		}
		if !found || probe.Height > bestHandle.Height {
			bestHandle = EditorHandle{
				Selector: probe.Selector,
				Index:    probe.Index,
				Height:   probe.Height,
				CenterX:  probe.Left + probe.Width/2,
				CenterY:  probe.Top + probe.Height/2,
			}
			found = true
		}
	}
	return bestHandle, found
}

// LocateTargetEditor probes the page and resolves the editor handle to update.
func LocateTargetEditor(executionContext context.Context, driver browser.Driver) (EditorHandle, error) {
	probes, probeError := probeEditors(executionContext, driver)
	if probeError != nil {
		return EditorHandle{}, CodeUpdateError{Reason: probeError.Error()}
	}

	handle, found := SelectTargetEditor(probes)
	if !found {
		return EditorHandle{}, CodeUpdateError{Reason: noVisibleEditorMessageConstant}
	}
	return handle, nil
}

// DeployHeader renders the comment block prepended to every pushed script. The
// timestamp makes each push unique so the workbench registers the change even
// when the script body is identical to the remote copy.
func DeployHeader(deployTime time.Time) string {
	return fmt.Sprintf(deployHeaderTemplateConstant, deployTime.UTC().Format(deployTimestampLayoutConst))
}

// ReplaceCode focuses the handle's editor, selects the existing content, and
// pastes the timestamped script through the clipboard. The clipboard is cleared
// afterwards so script content never lingers there, and an explicit save
// shortcut is issued because a clipboard paste does not trigger autosave.
func (engine *Engine) ReplaceCode(executionContext context.Context, handle EditorHandle, scriptContent string) error {
	if clickError := engine.driver.ClickAt(executionContext, handle.CenterX, handle.CenterY); clickError != nil {
		return CodeUpdateError{Reason: fmt.Sprintf("clicking the target editor failed: %v", clickError)}
	}
	if sleepError := engine.driver.Sleep(executionContext, editorClickPauseConstant); sleepError != nil {
		return sleepError
	}

	if selectError := engine.driver.PressKeys(executionContext, browser.KeyCombinationSelectAll); selectError != nil {
		return CodeUpdateError{Reason: selectAllFailedMessageConstant, Cause: selectError}
	}
	if sleepError := engine.driver.Sleep(executionContext, keystrokePauseConstant); sleepError != nil {
		return sleepError
	}

	timestampedContent := DeployHeader(engine.now()) + scriptContent
	if writeError := engine.driver.WriteClipboard(executionContext, timestampedContent); writeError != nil {
		return CodeUpdateError{Reason: clipboardWriteFailedMessageConst, Cause: writeError}
	}
	if pasteError := engine.driver.PressKeys(executionContext, browser.KeyCombinationPaste); pasteError != nil {
		return CodeUpdateError{Reason: pasteFailedMessageConstant, Cause: pasteError}
	}
	if sleepError := engine.driver.Sleep(executionContext, editorClickPauseConstant); sleepError != nil {
		return sleepError
	}

	if clearError := engine.driver.WriteClipboard(executionContext, clipboardClearContentConstant); clearError != nil {
		engine.logger.Warn(clipboardClearFailedMessageConstant)
	}

	if saveError := engine.driver.PressKeys(executionContext, browser.KeyCombinationSave); saveError != nil {
		return CodeUpdateError{Reason: "issuing the save shortcut failed", Cause: saveError}
	}
	return engine.driver.Sleep(executionContext, editorClickPauseConstant)
}
