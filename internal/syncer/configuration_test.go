package syncer_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/flowsync/internal/syncer"
)

const validScriptConstant = `ITEM_LIMIT = 10

def handler(pd):
    return {"limit": ITEM_LIMIT}
`

func writeScript(testInstance *testing.T, baseDirectory string, fileName string, content string) string {
	scriptPath := filepath.Join(baseDirectory, fileName)
	require.NoError(testInstance, os.WriteFile(scriptPath, []byte(content), 0o644))
	return fileName
}

func validWorkflowConfiguration(testInstance *testing.T, baseDirectory string) syncer.WorkflowConfiguration {
	scriptName := writeScript(testInstance, baseDirectory, "fetch.py", validScriptConstant)
	return syncer.WorkflowConfiguration{
		ID:   "fetch-pipeline-p_abc123",
		Name: "Fetch Pipeline",
		Steps: []syncer.StepConfiguration{
			{StepName: "fetch step", ScriptPath: scriptName},
		},
	}
}

func TestStepConfigurationValidation(testInstance *testing.T) {
	baseDirectory := testInstance.TempDir()
	validScript := writeScript(testInstance, baseDirectory, "valid.py", validScriptConstant)

	testCases := []struct {
		name          string
		step          syncer.StepConfiguration
		expectedError string
	}{
		{
			name: "valid_step",
			step: syncer.StepConfiguration{StepName: "fetch items", ScriptPath: validScript},
		},
		{
			name:          "empty_name",
			step:          syncer.StepConfiguration{StepName: "   ", ScriptPath: validScript},
			expectedError: "step name cannot be empty",
		},
		{
			name:          "name_with_forbidden_characters",
			step:          syncer.StepConfiguration{StepName: "fetch'); drop", ScriptPath: validScript},
			expectedError: "invalid step name",
		},
		{
			name:          "missing_script",
			step:          syncer.StepConfiguration{StepName: "fetch", ScriptPath: "absent.py"},
			expectedError: "script not found",
		},
		{
			name: "script_without_handler",
			step: syncer.StepConfiguration{
				StepName:   "fetch",
				ScriptPath: writeScript(testInstance, baseDirectory, "no_handler.py", "VALUE = 1\n"),
			},
			expectedError: "handler entry point",
		},
		{
			name: "script_with_unterminated_string",
			step: syncer.StepConfiguration{
				StepName:   "fetch",
				ScriptPath: writeScript(testInstance, baseDirectory, "unterminated.py", "DOC = \"\"\"open\n\ndef handler(pd):\n    pass\n"),
			},
			expectedError: "unterminated triple-quoted string",
		},
		{
			name: "script_with_invalid_encoding",
			step: syncer.StepConfiguration{
				StepName:   "fetch",
				ScriptPath: writeScript(testInstance, baseDirectory, "binary.py", "def handler(pd):\n    pass\n\xff\xfe"),
			},
			expectedError: "not valid UTF-8",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			validationError := testCase.step.Validate(baseDirectory)
			if len(testCase.expectedError) == 0 {
				require.NoError(testInstance, validationError)
				return
			}
			require.Error(testInstance, validationError)
			require.ErrorIs(testInstance, validationError, syncer.ErrValidation)
			require.Contains(testInstance, validationError.Error(), testCase.expectedError)
		})
	}
}

func TestWorkflowConfigurationValidation(testInstance *testing.T) {
	baseDirectory := testInstance.TempDir()
	validWorkflow := validWorkflowConfiguration(testInstance, baseDirectory)

	testCases := []struct {
		name          string
		mutate        func(workflow *syncer.WorkflowConfiguration)
		expectedError string
	}{
		{
			name:   "valid_workflow",
			mutate: func(*syncer.WorkflowConfiguration) {},
		},
		{
			name:          "missing_identifier",
			mutate:        func(workflow *syncer.WorkflowConfiguration) { workflow.ID = "" },
			expectedError: "missing an id",
		},
		{
			name:          "identifier_without_marker",
			mutate:        func(workflow *syncer.WorkflowConfiguration) { workflow.ID = "fetch-pipeline" },
			expectedError: `should contain "p_"`,
		},
		{
			name:          "identifier_with_forbidden_characters",
			mutate:        func(workflow *syncer.WorkflowConfiguration) { workflow.ID = "p_abc/../etc" },
			expectedError: "invalid workflow id",
		},
		{
			name:          "no_steps",
			mutate:        func(workflow *syncer.WorkflowConfiguration) { workflow.Steps = nil },
			expectedError: "no steps defined",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			workflow := validWorkflow
			testCase.mutate(&workflow)
			validationError := workflow.Validate(baseDirectory)
			if len(testCase.expectedError) == 0 {
				require.NoError(testInstance, validationError)
				return
			}
			require.Error(testInstance, validationError)
			require.Contains(testInstance, validationError.Error(), testCase.expectedError)
		})
	}
}

func TestConfigurationValidationIsIdempotent(testInstance *testing.T) {
	baseDirectory := testInstance.TempDir()
	configuration := syncer.Configuration{
		BaseURL: "https://workbench.example.com",
		Workflows: map[string]syncer.WorkflowConfiguration{
			"fetch_pipeline": validWorkflowConfiguration(testInstance, baseDirectory),
		},
		Settings: syncer.DefaultSettings(),
	}

	require.NoError(testInstance, configuration.Validate(baseDirectory))
	require.NoError(testInstance, configuration.Validate(baseDirectory))
}

func TestConfigurationValidationRequiresWorkflows(testInstance *testing.T) {
	configuration := syncer.Configuration{Settings: syncer.DefaultSettings()}
	validationError := configuration.Validate(testInstance.TempDir())
	require.ErrorIs(testInstance, validationError, syncer.ErrValidation)
	require.Contains(testInstance, validationError.Error(), "no workflows defined")
}

func TestWorkflowKeysAreSorted(testInstance *testing.T) {
	configuration := syncer.Configuration{
		Workflows: map[string]syncer.WorkflowConfiguration{
			"zebra": {}, "alpha": {}, "mango": {},
		},
	}
	require.Equal(testInstance, []string{"alpha", "mango", "zebra"}, configuration.WorkflowKeys())
}

func TestWorkflowLookup(testInstance *testing.T) {
	configuration := syncer.Configuration{
		Workflows: map[string]syncer.WorkflowConfiguration{
			"fetch_pipeline": {ID: "p_abc", Name: "Fetch"},
		},
	}

	workflow, lookupError := configuration.Workflow("fetch_pipeline")
	require.NoError(testInstance, lookupError)
	require.Equal(testInstance, "Fetch", workflow.Name)

	_, missingError := configuration.Workflow("unknown")
	require.ErrorIs(testInstance, missingError, syncer.ErrConfiguration)
	require.Contains(testInstance, missingError.Error(), "fetch_pipeline")
}

func TestDefaultSettingsDurations(testInstance *testing.T) {
	settings := syncer.DefaultSettings()
	require.Equal(testInstance, 60*time.Second, settings.StepTimeout())
	require.Equal(testInstance, 5*time.Second, settings.RetryDelay())
	require.Equal(testInstance, 3*time.Second, settings.AutosaveWait())
	require.Equal(testInstance, 5*time.Minute, settings.LoginTimeout())
	require.Equal(testInstance, 45*time.Second, settings.DeployTimeout())
	require.Equal(testInstance, 3, settings.MaxRetryCount)
	require.False(testInstance, settings.Headless)
	require.True(testInstance, settings.ScreenshotOnFailure)
}
