package syncer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/flowsync/internal/browser"
	"github.com/tyemirov/flowsync/internal/syncer"
)

const (
	firstStepScriptConstant = `FETCH_BATCH_SIZE = 25

def handler(pd):
    return {"batch": FETCH_BATCH_SIZE}
`
	secondStepScriptConstant = `TARGET_LIST_NAME = "inbox"

def handler(pd):
    return {"list": TARGET_LIST_NAME}
`
)

var stepNameExpressionPattern = regexp.MustCompile(`const stepName = "([^"]+)"`)

// fakeDriver simulates the workbench pages the engine drives: step cards,
// a small configuration editor next to a tall code editor, a clipboard, and
// the workflow list page text.
type fakeDriver struct {
	mutex                     sync.Mutex
	callCount                 int
	clipboard                 string
	currentStep               string
	editorBuffers             map[string]string
	pageText                  string
	stepMissing               bool
	cardProbeUnavailable      bool
	savingStuck               bool
	escapeFails               bool
	failNavigationURLFragment string
	pastedContent             []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{editorBuffers: map[string]string{}}
}

func (driver *fakeDriver) record() {
	driver.mutex.Lock()
	defer driver.mutex.Unlock()
	driver.callCount++
}

func (driver *fakeDriver) Navigate(_ context.Context, destinationURL string, _ time.Duration) error {
	driver.record()
	if len(driver.failNavigationURLFragment) > 0 && strings.Contains(destinationURL, driver.failNavigationURLFragment) {
		return errors.New("navigation interrupted")
	}
	return nil
}

func (driver *fakeDriver) WaitVisible(context.Context, string, time.Duration) error {
	driver.record()
	return nil
}

func (driver *fakeDriver) Click(_ context.Context, selector string, _ time.Duration) error {
	driver.record()
	if driver.stepMissing && strings.HasPrefix(selector, "[data-step-name=") {
		return syncer.ErrStepNotFound
	}
	return nil
}

func (driver *fakeDriver) ClickAt(context.Context, float64, float64) error {
	driver.record()
	return nil
}

func (driver *fakeDriver) DoubleClickAt(context.Context, float64, float64) error {
	driver.record()
	return nil
}

func (driver *fakeDriver) Evaluate(_ context.Context, expression string, result any) error {
	driver.record()

	assignString := func(value string) {
		if target, ok := result.(*string); ok {
			*target = value
		}
	}
	assignBool := func(value bool) {
		if target, ok := result.(*bool); ok {
			*target = value
		}
	}

	switch {
	case strings.Contains(expression, "const needle ="):
		assignBool(true)
	case strings.Contains(expression, "data-status='saving'"):
		assignBool(driver.savingStuck)
	case strings.Contains(expression, "step-config"):
		assignBool(true)
	case strings.Contains(expression, "[data-testid='step']"):
		if driver.stepMissing {
			assignString("null")
			return nil
		}
		if match := stepNameExpressionPattern.FindStringSubmatch(expression); match != nil {
			driver.currentStep = match[1]
		}
		assignString(`{"x": 310, "y": 250}`)
	case strings.Contains(expression, "const stepName ="):
		if driver.stepMissing || driver.cardProbeUnavailable {
			assignString("null")
			return nil
		}
		if match := stepNameExpressionPattern.FindStringSubmatch(expression); match != nil {
			driver.currentStep = match[1]
		}
		assignString(`{"x": 320, "y": 240}`)
	case strings.Contains(expression, "const fullName ="):
		assignString("null")
	case strings.Contains(expression, "'.monaco-editor', '.cm-editor', '.CodeMirror'"):
		assignString(`[
			{"selector": ".cm-editor", "index": 0, "width": 400, "height": 150, "top": 40, "left": 900, "display": "block", "visibility": "visible"},
			{"selector": ".cm-editor", "index": 1, "width": 800, "height": 620, "top": 120, "left": 900, "display": "block", "visibility": "visible"}
		]`)
	case strings.Contains(expression, "=== 'Deploy'"):
		assignString(`{"x": 1800, "y": 40}`)
	case strings.Contains(expression, "=== 'CODE'"):
		assignString(`{"x": 1200, "y": 300}`)
	default:
		assignString("null")
		assignBool(false)
	}
	return nil
}

func (driver *fakeDriver) PressKeys(_ context.Context, combination browser.KeyCombination) error {
	driver.record()
	if driver.escapeFails && combination == browser.KeyCombinationEscape {
		return errors.New("escape dispatch failed")
	}
	switch combination {
	case browser.KeyCombinationPaste:
		driver.editorBuffers[driver.currentStep] = driver.clipboard
		driver.pastedContent = append(driver.pastedContent, driver.clipboard)
	case browser.KeyCombinationCopy:
		driver.clipboard = driver.editorBuffers[driver.currentStep]
	}
	return nil
}

func (driver *fakeDriver) ReadClipboard(context.Context) (string, error) {
	driver.record()
	return driver.clipboard, nil
}

func (driver *fakeDriver) WriteClipboard(_ context.Context, content string) error {
	driver.record()
	driver.clipboard = content
	return nil
}

func (driver *fakeDriver) PageText(context.Context) (string, error) {
	driver.record()
	return driver.pageText, nil
}

func (driver *fakeDriver) CurrentURL(context.Context) (string, error) {
	driver.record()
	return "https://workbench.example.com/projects", nil
}

func (driver *fakeDriver) CaptureScreenshot(context.Context) ([]byte, error) {
	driver.record()
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (driver *fakeDriver) Sleep(executionContext context.Context, _ time.Duration) error {
	driver.record()
	return executionContext.Err()
}

// advancingClock returns a clock that jumps forward on every reading so the
// engine's polling deadlines expire without real waiting.
func advancingClock(step time.Duration) func() time.Time {
	current := time.Date(2026, time.February, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

func writeTestConfiguration(testInstance *testing.T) (*syncer.Configuration, string) {
	baseDirectory := testInstance.TempDir()
	scriptsDirectory := filepath.Join(baseDirectory, "scripts")
	require.NoError(testInstance, os.MkdirAll(scriptsDirectory, 0o755))
	require.NoError(testInstance, os.WriteFile(filepath.Join(scriptsDirectory, "fetch_items.py"), []byte(firstStepScriptConstant), 0o644))
	require.NoError(testInstance, os.WriteFile(filepath.Join(scriptsDirectory, "store_items.py"), []byte(secondStepScriptConstant), 0o644))

	settings := syncer.DefaultSettings()
	settings.MaxRetryCount = 1
	settings.ScreenshotOnFailure = false
	settings.DeployTimeoutSeconds = 5

	configuration := &syncer.Configuration{
		Version:           "1.0",
		BaseURL:           "https://workbench.example.com",
		WorkbenchUsername: "automation",
		WorkbenchProject:  "proj_123",
		Workflows: map[string]syncer.WorkflowConfiguration{
			"items_pipeline": {
				ID:   "items-pipeline-p_abc123",
				Name: "Items Pipeline",
				Steps: []syncer.StepConfiguration{
					{StepName: "fetch_items", ScriptPath: "scripts/fetch_items.py"},
					{StepName: "store_items", ScriptPath: "scripts/store_items.py"},
				},
			},
		},
		Settings: settings,
	}
	return configuration, baseDirectory
}

func newTestEngine(configuration *syncer.Configuration, basePath string, driver *fakeDriver, dryRun bool) *syncer.Engine {
	return syncer.NewEngine(syncer.EngineOptions{
		Configuration: configuration,
		Driver:        driver,
		BasePath:      basePath,
		DryRun:        dryRun,
		Now:           advancingClock(3 * time.Second),
	})
}

func TestDryRunSkipsEveryStepWithoutTouchingTheBrowser(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	engine := newTestEngine(configuration, basePath, driver, true)

	results, syncError := engine.SyncAll(context.Background(), nil)
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusSkipped, results[0].Status)
	require.Len(testInstance, results[0].Steps, 2)
	for _, stepResult := range results[0].Steps {
		require.Equal(testInstance, syncer.SyncStatusSkipped, stepResult.Status)
	}
	require.Zero(testInstance, driver.callCount)
}

func TestSyncWorkflowPushesDeploysAndVerifiesEveryStep(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), []string{"items_pipeline"})
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusSuccess, results[0].Status)
	require.Len(testInstance, results[0].Steps, 2)
	for _, stepResult := range results[0].Steps {
		require.Equal(testInstance, syncer.SyncStatusSuccess, stepResult.Status)
	}

	// Both scripts were pasted, each with the deploy timestamp header.
	require.Len(testInstance, driver.pastedContent, 2)
	require.Contains(testInstance, driver.pastedContent[0], "FETCH_BATCH_SIZE = 25")
	require.Contains(testInstance, driver.pastedContent[1], `TARGET_LIST_NAME = "inbox"`)
	for _, pasted := range driver.pastedContent {
		require.True(testInstance, strings.HasPrefix(pasted, "# Deployed by flowsync"))
	}

	// The clipboard is cleared after the last verification read returns the
	// editor content, never left holding freshly pushed scripts mid-run.
	require.Equal(testInstance, driver.editorBuffers["store_items"], driver.clipboard)
}

func TestSyncWorkflowMarksPartialWhenDeployStaysPending(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	driver.pageText = "Items Pipeline   DEPLOY PENDING"
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), []string{"items_pipeline"})
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusPartial, results[0].Status)

	// Every step still pushed successfully; only the deployment confirmation
	// was downgraded.
	for _, stepResult := range results[0].Steps {
		require.Equal(testInstance, syncer.SyncStatusSuccess, stepResult.Status)
	}
}

func TestSyncWorkflowFailsWhenNoLocatorStrategyMatches(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	driver.stepMissing = true
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), []string{"items_pipeline"})
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusFailed, results[0].Status)
	for _, stepResult := range results[0].Steps {
		require.Equal(testInstance, syncer.SyncStatusFailed, stepResult.Status)
		require.Contains(testInstance, stepResult.Message, "not found")
	}
}

func TestSyncAllIsIdempotentAcrossRepeatedRuns(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	engine := newTestEngine(configuration, basePath, driver, false)

	for run := 0; run < 2; run++ {
		results, syncError := engine.SyncAll(context.Background(), nil)
		require.NoError(testInstance, syncError)
		require.Len(testInstance, results, 1)
		require.Equal(testInstance, syncer.SyncStatusSuccess, results[0].Status)
		for _, stepResult := range results[0].Steps {
			require.Equal(testInstance, syncer.SyncStatusSuccess, stepResult.Status)
		}
	}

	// Each run pushes both scripts again; the unchanged content is re-verified
	// rather than skipped.
	require.Len(testInstance, driver.pastedContent, 4)
}

func TestNavigationFailureDoesNotStopLaterWorkflows(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	configuration.Workflows = map[string]syncer.WorkflowConfiguration{
		"alpha_pipeline": {
			ID:   "alpha-pipeline-p_one",
			Name: "Alpha Pipeline",
			Steps: []syncer.StepConfiguration{
				{StepName: "fetch_items", ScriptPath: "scripts/fetch_items.py"},
			},
		},
		"beta_pipeline": {
			ID:   "beta-pipeline-p_two",
			Name: "Beta Pipeline",
			Steps: []syncer.StepConfiguration{
				{StepName: "store_items", ScriptPath: "scripts/store_items.py"},
			},
		},
	}

	driver := newFakeDriver()
	driver.failNavigationURLFragment = "alpha-pipeline-p_one"
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), nil)
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 2)

	// The unreachable workflow fails before any of its steps run.
	require.Equal(testInstance, syncer.SyncStatusFailed, results[0].Status)
	require.Contains(testInstance, results[0].Error, "navigation failed")
	require.Empty(testInstance, results[0].Steps)

	// The next workflow still syncs end to end.
	require.Equal(testInstance, syncer.SyncStatusSuccess, results[1].Status)
	require.Len(testInstance, results[1].Steps, 1)
	require.Equal(testInstance, syncer.SyncStatusSuccess, results[1].Steps[0].Status)
}

func TestOpenStepFallsBackToContainerStrategy(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	driver.cardProbeUnavailable = true
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), []string{"items_pipeline"})
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusSuccess, results[0].Status)
	require.Len(testInstance, driver.pastedContent, 2)
}

func TestSyncStepFailsWhenSavingIndicatorNeverClears(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	driver.savingStuck = true
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), []string{"items_pipeline"})
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusFailed, results[0].Status)
	for _, stepResult := range results[0].Steps {
		require.Equal(testInstance, syncer.SyncStatusFailed, stepResult.Status)
		require.Contains(testInstance, stepResult.Message, "saving indicator did not clear")
	}
}

func TestDeployToleratesEscapeDispatchFailure(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	driver := newFakeDriver()
	driver.escapeFails = true
	engine := newTestEngine(configuration, basePath, driver, false)

	results, syncError := engine.SyncAll(context.Background(), []string{"items_pipeline"})
	require.NoError(testInstance, syncError)
	require.Len(testInstance, results, 1)
	require.Equal(testInstance, syncer.SyncStatusSuccess, results[0].Status)
}

func TestSyncWorkflowRejectsUnknownKey(testInstance *testing.T) {
	configuration, basePath := writeTestConfiguration(testInstance)
	engine := newTestEngine(configuration, basePath, newFakeDriver(), false)

	_, syncError := engine.SyncWorkflow(context.Background(), "missing_workflow")
	require.Error(testInstance, syncError)
	require.ErrorIs(testInstance, syncError, syncer.ErrConfiguration)
}
