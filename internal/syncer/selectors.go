package syncer

import (
	"fmt"
	"strings"
)

// DOM selectors targeting the hosted workflow editor. The workbench ships no
// API, so these track its UI structure and may need updates when it changes.
const (
	StepContainerSelectorConstant   = "[data-testid='step'], .step-container, .workflow-step"
	StepConfigPanelSelectorConstant = "[data-testid='step-config'], .step-config, .step-panel, .config-panel"

	CodeEditorSelectorConstant = ".monaco-editor, .cm-editor, .CodeMirror"

	SavingIndicatorSelectorConstant = "[data-status='saving'], .saving"
	SavedIndicatorSelectorConstant  = "[data-status='saved'], .saved"

	DeployButtonSelectorConstant = "[data-testid='deploy-button']"

	stepDataAttributeSelectorTemplateConstant = "[data-step-name=%q]"

	workflowEditURLTemplateConstant       = "%s/@%s/projects/%s/%s/build"
	workflowLegacyEditURLTemplateConstant = "%s/workflows/%s/edit"
	workflowListURLTemplateConstant       = "%s/@%s/projects/%s"
)

// Close-button candidates tried before falling back to the Escape key.
var closePanelSelectorsConstant = []string{
	"button[aria-label='Close']",
	"button[aria-label='close']",
	"[data-testid='close-step']",
	"[data-testid='close-panel']",
	".close-button",
}

// StepDataAttributeSelector builds the attribute selector for a step card that
// carries its name as a data attribute.
func StepDataAttributeSelector(stepName string) string {
	return fmt.Sprintf(stepDataAttributeSelectorTemplateConstant, stepName)
}

// WorkflowEditURL builds the URL of a workflow's build page. The project-scoped
// shape is used when both username and project are configured; the legacy shape
// is kept for accounts predating projects.
func WorkflowEditURL(baseURL string, username string, projectID string, workflowID string) string {
	trimmedBase := strings.TrimRight(baseURL, "/")
	if len(username) > 0 && len(projectID) > 0 {
		return fmt.Sprintf(workflowEditURLTemplateConstant, trimmedBase, username, projectID, workflowID)
	}
	return fmt.Sprintf(workflowLegacyEditURLTemplateConstant, trimmedBase, workflowID)
}

// WorkflowListURL builds the URL of the project's workflow list page, where
// deployment pending indicators appear. It returns an empty string when the
// account is not project-scoped.
func WorkflowListURL(baseURL string, username string, projectID string) string {
	if len(username) == 0 || len(projectID) == 0 {
		return ""
	}
	return fmt.Sprintf(workflowListURLTemplateConstant, strings.TrimRight(baseURL, "/"), username, projectID)
}
