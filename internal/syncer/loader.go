package syncer

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	localEnvironmentFileNameConstant = ".env.local"

	configurationTypeConstant              = "yaml"
	configurationFileMissingTemplate       = "configuration file not found: %s"
	configurationFileUnreadableTemplate    = "unable to read configuration file %s: %v"
	configurationParseFailureTemplate      = "invalid YAML in %s: %v"
	configurationDecodeFailureTemplate     = "unable to decode configuration in %s: %v"
	configurationEmptyTemplate             = "empty configuration file: %s"
	unresolvedEnvironmentVariableTemplate  = "environment variable %q is not set and has no default; set it with: export %s=<value>"
	settingsStepTimeoutKeyConstant         = "settings.step_timeout"
	settingsMaxRetriesKeyConstant          = "settings.max_retries"
	settingsRetryDelayKeyConstant          = "settings.retry_delay_seconds"
	settingsAutosaveWaitKeyConstant        = "settings.autosave_wait"
	settingsLoginTimeoutKeyConstant        = "settings.login_timeout"
	settingsDeployTimeoutKeyConstant       = "settings.deploy_timeout"
	settingsScreenshotOnFailureKeyConstant = "settings.screenshot_on_failure"
	settingsScreenshotPathKeyConstant      = "settings.screenshot_path"
	settingsViewportWidthKeyConstant       = "settings.viewport_width"
	settingsViewportHeightKeyConstant      = "settings.viewport_height"
	baseURLKeyConstant                     = "base_url"
	versionKeyConstant                     = "version"
)

// environmentVariablePattern matches ${VAR_NAME} and ${VAR_NAME:-default}.
var environmentVariablePattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(:-([^}]*))?\}`)

// LoadLocalEnvironment loads .env.local entries into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadLocalEnvironment() {
	if _, statError := os.Stat(localEnvironmentFileNameConstant); statError != nil {
		return
	}
	_ = godotenv.Load(localEnvironmentFileNameConstant)
}

// LoadConfiguration reads, interpolates, parses, and decodes the deployment
// configuration file. Interpolation resolves ${VAR} and ${VAR:-default}
// references against the process environment before YAML parsing.
func LoadConfiguration(configurationPath string) (Configuration, error) {
	rawContent, readError := os.ReadFile(configurationPath)
	if readError != nil {
		if os.IsNotExist(readError) {
			return Configuration{}, ConfigurationError{Reason: fmt.Sprintf(configurationFileMissingTemplate, configurationPath)}
		}
		return Configuration{}, ConfigurationError{Reason: fmt.Sprintf(configurationFileUnreadableTemplate, configurationPath, readError), Cause: readError}
	}

	interpolatedContent, interpolationError := interpolateEnvironmentVariables(string(rawContent))
	if interpolationError != nil {
		return Configuration{}, interpolationError
	}

	configurationReader := viper.New()
	configurationReader.SetConfigType(configurationTypeConstant)

	if parseError := configurationReader.ReadConfig(bytes.NewBufferString(interpolatedContent)); parseError != nil {
		return Configuration{}, ConfigurationError{Reason: fmt.Sprintf(configurationParseFailureTemplate, configurationPath, parseError), Cause: parseError}
	}
	// Emptiness must be checked before defaults are registered: AllKeys reports
	// defaulted keys too, which would make an empty file indistinguishable from
	// a fully defaulted one.
	if len(configurationReader.AllKeys()) == 0 {
		return Configuration{}, ConfigurationError{Reason: fmt.Sprintf(configurationEmptyTemplate, configurationPath)}
	}
	applySettingsDefaults(configurationReader)

	var configuration Configuration
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &configuration,
		WeaklyTypedInput: true,
	})
	if decoderError != nil {
		return Configuration{}, ConfigurationError{Reason: fmt.Sprintf(configurationDecodeFailureTemplate, configurationPath, decoderError), Cause: decoderError}
	}
	if decodeError := decoder.Decode(configurationReader.AllSettings()); decodeError != nil {
		return Configuration{}, ConfigurationError{Reason: fmt.Sprintf(configurationDecodeFailureTemplate, configurationPath, decodeError), Cause: decodeError}
	}

	return configuration, nil
}

func applySettingsDefaults(configurationReader *viper.Viper) {
	defaultSettings := DefaultSettings()
	configurationReader.SetDefault(versionKeyConstant, defaultConfigurationVersionValue)
	configurationReader.SetDefault(baseURLKeyConstant, defaultBaseURLConstant)
	configurationReader.SetDefault(settingsStepTimeoutKeyConstant, defaultSettings.StepTimeoutSeconds)
	configurationReader.SetDefault(settingsMaxRetriesKeyConstant, defaultSettings.MaxRetryCount)
	configurationReader.SetDefault(settingsRetryDelayKeyConstant, defaultSettings.RetryDelaySeconds)
	configurationReader.SetDefault(settingsAutosaveWaitKeyConstant, defaultSettings.AutosaveWaitSeconds)
	configurationReader.SetDefault(settingsLoginTimeoutKeyConstant, defaultSettings.LoginTimeoutSeconds)
	configurationReader.SetDefault(settingsDeployTimeoutKeyConstant, defaultSettings.DeployTimeoutSeconds)
	configurationReader.SetDefault(settingsScreenshotOnFailureKeyConstant, defaultSettings.ScreenshotOnFailure)
	configurationReader.SetDefault(settingsScreenshotPathKeyConstant, defaultSettings.ScreenshotPath)
	configurationReader.SetDefault(settingsViewportWidthKeyConstant, defaultSettings.ViewportWidth)
	configurationReader.SetDefault(settingsViewportHeightKeyConstant, defaultSettings.ViewportHeight)
}

// interpolateEnvironmentVariables substitutes ${VAR} and ${VAR:-default}
// references. A reference with neither an environment value nor a default is a
// configuration error.
func interpolateEnvironmentVariables(content string) (string, error) {
	var unresolvedVariableName string

	substituted := environmentVariablePattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := environmentVariablePattern.FindStringSubmatch(match)
		variableName := submatches[1]
		hasDefault := len(submatches[2]) > 0
		defaultValue := submatches[3]

		if environmentValue, exists := os.LookupEnv(variableName); exists {
			return environmentValue
		}
		if hasDefault {
			return defaultValue
		}
		if len(unresolvedVariableName) == 0 {
			unresolvedVariableName = variableName
		}
		return match
	})

	if len(unresolvedVariableName) > 0 {
		return "", ConfigurationError{Reason: fmt.Sprintf(unresolvedEnvironmentVariableTemplate, unresolvedVariableName, unresolvedVariableName)}
	}
	return substituted, nil
}
