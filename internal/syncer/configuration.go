package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	workflowIdentifierMarkerConstant = "p_"
	tripleQuoteDelimiterConstant     = `"""`
	tripleApostropheConstant         = "'''"

	emptyStepNameMessageConstant              = "step name cannot be empty"
	invalidStepNameTemplateConstant           = "invalid step name %q: must be 1-100 alphanumeric characters, underscores, hyphens, or spaces"
	scriptMissingTemplateConstant             = "script not found: %s"
	scriptUnreadableTemplateConstant          = "script %s is not readable: %v"
	scriptNotTextTemplateConstant             = "script %s is not valid UTF-8 text"
	scriptUnterminatedStringTemplateConstant  = "script %s has an unterminated triple-quoted string"
	scriptMissingHandlerTemplateConstant      = "script %s must define a handler entry point"
	workflowMissingIdentifierTemplate         = "workflow %q is missing an id"
	workflowIdentifierMarkerTemplateConstant  = "workflow id %q should contain %q (e.g. %q or %q)"
	workflowIdentifierPatternTemplateConstant = "invalid workflow id %q: must be 1-100 alphanumeric characters, underscores, or hyphens"
	workflowWithoutStepsTemplateConstant      = "workflow %q has no steps defined"
	workflowStepTemplateConstant              = "workflow %q: %s"
	noWorkflowsConfiguredMessageConstant      = "no workflows defined in configuration"
	unknownWorkflowTemplateConstant           = "workflow %q not found; available: %s"

	workflowIdentifierBareExampleConstant = "p_abc123"
	workflowIdentifierSlugExampleConstant = "my-workflow-p_abc123"

	defaultBaseURLConstant           = "https://workbench.example.com"
	defaultStepTimeoutSeconds        = 60
	defaultMaxRetryCount             = 3
	defaultRetryDelaySeconds         = 5
	defaultAutosaveWaitSeconds       = 3
	defaultLoginTimeoutSeconds       = 300
	defaultDeployTimeoutSeconds      = 45
	defaultScreenshotDirectory       = ".tmp/screenshots"
	defaultViewportWidth             = 1920
	defaultViewportHeight            = 1080
	defaultConfigurationVersionValue = "1.0"
)

var (
	stepNamePattern           = regexp.MustCompile(`^[a-zA-Z0-9_\-\s]{1,100}$`)
	workflowIdentifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,100}$`)
	handlerDefinitionPattern  = regexp.MustCompile(`(?m)^(async\s+)?def\s+handler\s*\(`)
)

// StepConfiguration binds a named workbench step to a local script file.
type StepConfiguration struct {
	StepName    string `mapstructure:"step_name" yaml:"step_name"`
	ScriptPath  string `mapstructure:"script_path" yaml:"script_path"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
}

// Validate checks the step name format and the referenced script file.
func (configuration StepConfiguration) Validate(basePath string) error {
	if len(strings.TrimSpace(configuration.StepName)) == 0 {
		return ValidationError{Reason: emptyStepNameMessageConstant}
	}
	if !stepNamePattern.MatchString(configuration.StepName) {
		return ValidationError{Reason: fmt.Sprintf(invalidStepNameTemplateConstant, configuration.StepName)}
	}

	scriptFilePath := filepath.Join(basePath, configuration.ScriptPath)
	scriptContent, readError := os.ReadFile(scriptFilePath)
	if readError != nil {
		if os.IsNotExist(readError) {
			return ValidationError{Reason: fmt.Sprintf(scriptMissingTemplateConstant, configuration.ScriptPath)}
		}
		return ValidationError{Reason: fmt.Sprintf(scriptUnreadableTemplateConstant, configuration.ScriptPath, readError)}
	}

	return validateScriptContent(configuration.ScriptPath, string(scriptContent))
}

// validateScriptContent performs the structural checks applied to every script
// before a run: the file must be text, its triple-quoted strings must be
// terminated, and it must define the handler entry point the workbench calls.
func validateScriptContent(scriptPath string, scriptContent string) error {
	if !utf8.ValidString(scriptContent) {
		return ValidationError{Reason: fmt.Sprintf(scriptNotTextTemplateConstant, scriptPath)}
	}
	if strings.Count(scriptContent, tripleQuoteDelimiterConstant)%2 != 0 ||
		strings.Count(scriptContent, tripleApostropheConstant)%2 != 0 {
		return ValidationError{Reason: fmt.Sprintf(scriptUnterminatedStringTemplateConstant, scriptPath)}
	}
	if !handlerDefinitionPattern.MatchString(scriptContent) {
		return ValidationError{Reason: fmt.Sprintf(scriptMissingHandlerTemplateConstant, scriptPath)}
	}
	return nil
}

// WorkflowConfiguration describes one workbench workflow and its ordered steps.
type WorkflowConfiguration struct {
	ID    string              `mapstructure:"id" yaml:"id"`
	Name  string              `mapstructure:"name" yaml:"name"`
	Steps []StepConfiguration `mapstructure:"steps" yaml:"steps"`
}

// Validate checks the workflow identifier and every configured step.
func (configuration WorkflowConfiguration) Validate(basePath string) error {
	if len(strings.TrimSpace(configuration.ID)) == 0 {
		return ValidationError{Reason: fmt.Sprintf(workflowMissingIdentifierTemplate, configuration.Name)}
	}
	if !workflowIdentifierPattern.MatchString(configuration.ID) {
		return ValidationError{Reason: fmt.Sprintf(workflowIdentifierPatternTemplateConstant, configuration.ID)}
	}
	if !strings.Contains(configuration.ID, workflowIdentifierMarkerConstant) {
		return ValidationError{Reason: fmt.Sprintf(
			workflowIdentifierMarkerTemplateConstant,
			configuration.ID,
			workflowIdentifierMarkerConstant,
			workflowIdentifierBareExampleConstant,
			workflowIdentifierSlugExampleConstant,
		)}
	}
	if len(configuration.Steps) == 0 {
		return ValidationError{Reason: fmt.Sprintf(workflowWithoutStepsTemplateConstant, configuration.Name)}
	}
	for _, stepConfiguration := range configuration.Steps {
		if stepError := stepConfiguration.Validate(basePath); stepError != nil {
			return stepError
		}
	}
	return nil
}

// Settings captures the operational knobs for a deployment run.
type Settings struct {
	StepTimeoutSeconds   int    `mapstructure:"step_timeout" yaml:"step_timeout"`
	MaxRetryCount        int    `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelaySeconds    int    `mapstructure:"retry_delay_seconds" yaml:"retry_delay_seconds"`
	AutosaveWaitSeconds  int    `mapstructure:"autosave_wait" yaml:"autosave_wait"`
	LoginTimeoutSeconds  int    `mapstructure:"login_timeout" yaml:"login_timeout"`
	DeployTimeoutSeconds int    `mapstructure:"deploy_timeout" yaml:"deploy_timeout"`
	Headless             bool   `mapstructure:"headless" yaml:"headless"`
	ScreenshotOnFailure  bool   `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
	ScreenshotPath       string `mapstructure:"screenshot_path" yaml:"screenshot_path"`
	ViewportWidth        int    `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight       int    `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// DefaultSettings returns the settings applied when the configuration file omits them.
func DefaultSettings() Settings {
	return Settings{
		StepTimeoutSeconds:   defaultStepTimeoutSeconds,
		MaxRetryCount:        defaultMaxRetryCount,
		RetryDelaySeconds:    defaultRetryDelaySeconds,
		AutosaveWaitSeconds:  defaultAutosaveWaitSeconds,
		LoginTimeoutSeconds:  defaultLoginTimeoutSeconds,
		DeployTimeoutSeconds: defaultDeployTimeoutSeconds,
		Headless:             false,
		ScreenshotOnFailure:  true,
		ScreenshotPath:       defaultScreenshotDirectory,
		ViewportWidth:        defaultViewportWidth,
		ViewportHeight:       defaultViewportHeight,
	}
}

// StepTimeout exposes the step timeout as a duration.
func (settings Settings) StepTimeout() time.Duration {
	return time.Duration(settings.StepTimeoutSeconds) * time.Second
}

// RetryDelay exposes the retry delay as a duration.
func (settings Settings) RetryDelay() time.Duration {
	return time.Duration(settings.RetryDelaySeconds) * time.Second
}

// AutosaveWait exposes the autosave settle window as a duration.
func (settings Settings) AutosaveWait() time.Duration {
	return time.Duration(settings.AutosaveWaitSeconds) * time.Second
}

// LoginTimeout exposes the interactive login timeout as a duration.
func (settings Settings) LoginTimeout() time.Duration {
	return time.Duration(settings.LoginTimeoutSeconds) * time.Second
}

// DeployTimeout exposes the deploy polling timeout as a duration.
func (settings Settings) DeployTimeout() time.Duration {
	return time.Duration(settings.DeployTimeoutSeconds) * time.Second
}

// Configuration aggregates the workbench connection details, workflow map, and settings.
type Configuration struct {
	Version           string                           `mapstructure:"version" yaml:"version"`
	BaseURL           string                           `mapstructure:"base_url" yaml:"base_url"`
	WorkbenchUsername string                           `mapstructure:"username" yaml:"username"`
	WorkbenchProject  string                           `mapstructure:"project_id" yaml:"project_id"`
	Workflows         map[string]WorkflowConfiguration `mapstructure:"workflows" yaml:"workflows"`
	Settings          Settings                         `mapstructure:"settings" yaml:"settings"`
}

// Workflow returns the workflow registered under the provided key.
func (configuration Configuration) Workflow(workflowKey string) (WorkflowConfiguration, error) {
	workflowConfiguration, exists := configuration.Workflows[workflowKey]
	if !exists {
		availableKeys := make([]string, 0, len(configuration.Workflows))
		for key := range configuration.Workflows {
			availableKeys = append(availableKeys, key)
		}
		return WorkflowConfiguration{}, ConfigurationError{
			Reason: fmt.Sprintf(unknownWorkflowTemplateConstant, workflowKey, strings.Join(availableKeys, ", ")),
		}
	}
	return workflowConfiguration, nil
}

// WorkflowKeys returns the configured workflow keys in deterministic order.
func (configuration Configuration) WorkflowKeys() []string {
	keys := make([]string, 0, len(configuration.Workflows))
	for key := range configuration.Workflows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every configured workflow and its scripts. Validation reads
// script files but performs no other filesystem or network access, and calling
// it repeatedly yields the same outcome.
func (configuration Configuration) Validate(basePath string) error {
	if len(configuration.Workflows) == 0 {
		return ValidationError{Reason: noWorkflowsConfiguredMessageConstant}
	}
	for _, workflowKey := range configuration.WorkflowKeys() {
		workflowConfiguration := configuration.Workflows[workflowKey]
		if workflowError := workflowConfiguration.Validate(basePath); workflowError != nil {
			return ValidationError{Reason: fmt.Sprintf(workflowStepTemplateConstant, workflowKey, workflowError)}
		}
	}
	return nil
}
