// Package cli wires the flowsync command-line application: flag parsing,
// logger construction, configuration loading, and the deployment run itself.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tyemirov/flowsync/internal/browser"
	"github.com/tyemirov/flowsync/internal/syncer"
	"github.com/tyemirov/flowsync/internal/utils"
)

const (
	applicationNameConstant             = "flowsync"
	applicationShortDescriptionConstant = "Push local step scripts into a browser-only workflow editor"
	applicationLongDescriptionConstant  = "flowsync opens an authenticated browser session against the hosted workflow editor, replaces the code of each configured step with the matching local script, triggers a deploy, and verifies the pushed content landed."

	configFlagNameConstant              = "config"
	configFlagUsageConstant             = "Path to the deployment mapping file."
	workflowFlagNameConstant            = "workflow"
	workflowFlagUsageConstant           = "Workflow key to sync (repeatable). Defaults to every configured workflow."
	dryRunFlagNameConstant              = "dry-run"
	dryRunFlagUsageConstant             = "Print the deployment plan without opening a browser."
	verboseFlagNameConstant             = "verbose"
	verboseFlagUsageConstant            = "Enable debug logging."
	screenshotAlwaysFlagNameConstant    = "screenshot-always"
	screenshotAlwaysFlagUsageConstant   = "Capture a screenshot around every step update, not only on failure."
	basePathFlagNameConstant            = "base-path"
	basePathFlagUsageConstant           = "Directory script paths resolve against. Defaults to the configuration file directory."
	headlessFlagNameConstant            = "headless"
	headlessFlagUsageConstant           = "Run the browser headless, overriding the configured setting."
	logLevelFlagNameConstant            = "log-level"
	logLevelFlagUsageConstant           = "Log level (debug, info, warn, error)."
	logFormatFlagNameConstant           = "log-format"
	logFormatFlagUsageConstant          = "Log format (structured or console)."
	defaultConfigurationPathConstant    = "config/deploy-mapping.yaml"
	defaultLogLevelConstant             = string(utils.LogLevelInfo)
	defaultLogFormatConstant            = string(utils.LogFormatConsole)

	validateCommandUseNameConstant          = "validate"
	validateCommandShortDescriptionConstant = "Validate the deployment mapping and exit"
	validateCommandLongDescriptionConstant  = "validate loads the deployment mapping, resolves environment references, and checks every workflow and step without opening a browser."
	versionCommandUseNameConstant           = "version"
	versionCommandShortDescriptionConstant  = "Print the flowsync version"
	versionOutputTemplateConstant           = "flowsync version: %s\n"
	applicationVersionConstant              = "0.3.0"

	loggerCreationErrorTemplateConstant  = "unable to create logger: %w"
	configurationValidMessageConstant    = "configuration is valid"
	loginTimeoutMessageConstant          = "login was not detected before the timeout"
	sessionOpenFailedMessageConstant     = "unable to open browser session"
	reportWriteFailedMessageConstant     = "unable to write run report"
	runInterruptedMessageConstant        = "run interrupted"
	logFieldConfigurationPathConstant    = "configuration_path"
	logFieldWorkflowCountConstant        = "workflow_count"
	logFieldReportPathConstant           = "report_path"
	logFieldWorkflowSelectionConstant    = "selected_workflows"
	runStartedMessageConstant            = "deployment run started"
	configurationLoadedMessageConstant   = "configuration loaded"
	waitingForLoginMessageConstant       = "waiting for workbench login"
	reportWrittenMessageConstant         = "run report written"

	exitCodeSuccessConstant     = 0
	exitCodeFailureConstant     = 1
	exitCodeInterruptedConstant = 130
)

// Application wires the cobra root command, the logger factory, and the
// deployment engine together.
type Application struct {
	rootCommand   *cobra.Command
	loggerFactory *utils.LoggerFactory
	logger        *zap.Logger

	configurationPath  string
	selectedWorkflows  []string
	dryRunRequested    bool
	verboseRequested   bool
	screenshotAlways   bool
	basePathOverride   string
	headlessOverride   bool
	logLevelFlagValue  string
	logFormatFlagValue string
	headlessChanged    bool
	exitCode           int

	// driverFactory lets tests substitute the browser session with a fake
	// driver. The returned release function closes the session.
	driverFactory func(executionContext context.Context, configuration syncer.Configuration, logger *zap.Logger) (browser.Driver, func(), error)
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	application := &Application{
		loggerFactory: utils.NewLoggerFactory(),
		logger:        zap.NewNop(),
		exitCode:      exitCodeSuccessConstant,
	}
	application.driverFactory = application.openBrowserSession

	rootCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeLogger()
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runSync(command)
		},
	}

	rootCommand.PersistentFlags().StringVar(&application.configurationPath, configFlagNameConstant, defaultConfigurationPathConstant, configFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.basePathOverride, basePathFlagNameConstant, "", basePathFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, defaultLogLevelConstant, logLevelFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, defaultLogFormatConstant, logFormatFlagUsageConstant)
	rootCommand.PersistentFlags().BoolVar(&application.verboseRequested, verboseFlagNameConstant, false, verboseFlagUsageConstant)
	rootCommand.Flags().StringSliceVar(&application.selectedWorkflows, workflowFlagNameConstant, nil, workflowFlagUsageConstant)
	rootCommand.Flags().BoolVar(&application.dryRunRequested, dryRunFlagNameConstant, false, dryRunFlagUsageConstant)
	rootCommand.Flags().BoolVar(&application.screenshotAlways, screenshotAlwaysFlagNameConstant, false, screenshotAlwaysFlagUsageConstant)
	rootCommand.Flags().BoolVar(&application.headlessOverride, headlessFlagNameConstant, false, headlessFlagUsageConstant)

	validateCommand := &cobra.Command{
		Use:           validateCommandUseNameConstant,
		Short:         validateCommandShortDescriptionConstant,
		Long:          validateCommandLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runValidate(command)
		},
	}
	rootCommand.AddCommand(validateCommand)

	versionCommand := &cobra.Command{
		Use:           versionCommandUseNameConstant,
		Short:         versionCommandShortDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			fmt.Fprintf(command.OutOrStdout(), versionOutputTemplateConstant, applicationVersionConstant)
			return nil
		},
	}
	rootCommand.AddCommand(versionCommand)

	application.rootCommand = rootCommand
	return application
}

// Execute runs the root command hierarchy and reports the process exit code.
func (application *Application) Execute() (int, error) {
	executionContext, stopNotifications := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopNotifications()
	application.rootCommand.SetContext(executionContext)

	executionError := application.rootCommand.Execute()
	_ = application.logger.Sync()

	if executionError != nil {
		if errors.Is(executionContext.Err(), context.Canceled) {
			return exitCodeInterruptedConstant, executionError
		}
		return exitCodeFailureConstant, executionError
	}
	return application.exitCode, nil
}

// Execute builds a fresh application instance and executes the root command.
func Execute() (int, error) {
	return NewApplication().Execute()
}

func (application *Application) initializeLogger() error {
	requestedLevel := utils.LogLevel(strings.TrimSpace(application.logLevelFlagValue))
	if application.verboseRequested {
		requestedLevel = utils.LogLevelDebug
	}

	loggerOutputs, loggerError := application.loggerFactory.CreateLoggerOutputs(
		requestedLevel,
		utils.LogFormat(strings.TrimSpace(application.logFormatFlagValue)),
	)
	if loggerError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerError)
	}

	application.logger = loggerOutputs.DiagnosticLogger
	if application.logger == nil {
		application.logger = zap.NewNop()
	}
	return nil
}

// loadValidatedConfiguration loads the mapping file, resolves environment
// references, and validates every workflow before any browser work starts.
func (application *Application) loadValidatedConfiguration() (syncer.Configuration, string, error) {
	syncer.LoadLocalEnvironment()

	configuration, loadError := syncer.LoadConfiguration(application.configurationPath)
	if loadError != nil {
		return syncer.Configuration{}, "", loadError
	}

	basePath := application.basePathOverride
	if len(basePath) == 0 {
		basePath = filepath.Dir(application.configurationPath)
	}

	if validationError := configuration.Validate(basePath); validationError != nil {
		return syncer.Configuration{}, "", validationError
	}

	application.logger.Info(
		configurationLoadedMessageConstant,
		zap.String(logFieldConfigurationPathConstant, application.configurationPath),
		zap.Int(logFieldWorkflowCountConstant, len(configuration.Workflows)),
	)
	return configuration, basePath, nil
}

func (application *Application) runValidate(command *cobra.Command) error {
	_, _, configurationError := application.loadValidatedConfiguration()
	if configurationError != nil {
		return configurationError
	}
	fmt.Fprintln(command.OutOrStdout(), configurationValidMessageConstant)
	return nil
}

func (application *Application) runSync(command *cobra.Command) error {
	configuration, basePath, configurationError := application.loadValidatedConfiguration()
	if configurationError != nil {
		return configurationError
	}

	executionContext := command.Context()
	application.headlessChanged = boolFlagChanged(command.Flags(), headlessFlagNameConstant)
	application.logger.Info(
		runStartedMessageConstant,
		zap.Strings(logFieldWorkflowSelectionConstant, application.selectedWorkflows),
		zap.Bool(dryRunFlagNameConstant, application.dryRunRequested),
	)

	if application.dryRunRequested {
		return application.runPlan(command, configuration, basePath)
	}

	driver, releaseSession, sessionError := application.driverFactory(executionContext, configuration, application.logger)
	if sessionError != nil {
		return sessionError
	}
	defer releaseSession()

	engine := syncer.NewEngine(syncer.EngineOptions{
		Configuration:    &configuration,
		Driver:           driver,
		Logger:           application.logger,
		BasePath:         basePath,
		ScreenshotAlways: application.screenshotAlways,
	})

	results, syncError := engine.SyncAll(executionContext, application.selectedWorkflows)
	if syncError != nil {
		if errors.Is(syncError, context.Canceled) {
			application.logger.Warn(runInterruptedMessageConstant)
		}
		return syncError
	}

	return application.finishRun(command, results)
}

// runPlan renders the deployment plan and records skipped results without
// touching a browser.
func (application *Application) runPlan(command *cobra.Command, configuration syncer.Configuration, basePath string) error {
	plan, planError := syncer.BuildPlan(&configuration, application.selectedWorkflows)
	if planError != nil {
		return planError
	}
	renderedPlan, renderError := plan.Render()
	if renderError != nil {
		return renderError
	}
	fmt.Fprint(command.OutOrStdout(), renderedPlan)

	engine := syncer.NewEngine(syncer.EngineOptions{
		Configuration: &configuration,
		Logger:        application.logger,
		BasePath:      basePath,
		DryRun:        true,
	})
	results, syncError := engine.SyncAll(command.Context(), application.selectedWorkflows)
	if syncError != nil {
		return syncError
	}
	return application.finishRun(command, results)
}

func (application *Application) finishRun(command *cobra.Command, results []syncer.WorkflowResult) error {
	report := syncer.BuildRunReport(results, time.Now().UTC())
	if writeError := report.Write(syncer.DefaultReportPathConstant); writeError != nil {
		application.logger.Warn(reportWriteFailedMessageConstant, zap.Error(writeError))
	} else {
		application.logger.Info(
			reportWrittenMessageConstant,
			zap.String(logFieldReportPathConstant, syncer.DefaultReportPathConstant),
		)
	}

	fmt.Fprintln(command.OutOrStdout(), report.Summary())
	if report.HasFailures() {
		application.exitCode = exitCodeFailureConstant
	}
	return nil
}

// boolFlagChanged reports whether the named flag was set on the command line.
func boolFlagChanged(flags *pflag.FlagSet, flagName string) bool {
	flag := flags.Lookup(flagName)
	return flag != nil && flag.Changed
}

// openBrowserSession starts the persistent Chromium session and blocks until
// the workbench login is detected or the configured login timeout expires.
func (application *Application) openBrowserSession(executionContext context.Context, configuration syncer.Configuration, logger *zap.Logger) (browser.Driver, func(), error) {
	headless := configuration.Settings.Headless
	if application.headlessChanged {
		headless = application.headlessOverride
	}

	sessionManager := browser.NewSessionManager(logger, browser.SessionOptions{
		Headless:        headless,
		ViewportWidth:   configuration.Settings.ViewportWidth,
		ViewportHeight:  configuration.Settings.ViewportHeight,
		BaseURL:         configuration.BaseURL,
		CookieCachePath: browser.DefaultCookieCachePathConstant,
	})

	driver, openError := sessionManager.Open(executionContext)
	if openError != nil {
		logger.Error(sessionOpenFailedMessageConstant, zap.Error(openError))
		return nil, func() {}, openError
	}

	logger.Info(waitingForLoginMessageConstant)
	loggedIn, loginError := sessionManager.WaitForLogin(executionContext, configuration.Settings.LoginTimeout())
	if loginError != nil {
		sessionManager.Close()
		return nil, func() {}, loginError
	}
	if !loggedIn {
		sessionManager.Close()
		return nil, func() {}, syncer.AuthenticationError{Reason: loginTimeoutMessageConstant}
	}

	return driver, sessionManager.Close, nil
}
