package syncer

import (
	"errors"
	"fmt"
)

const (
	authenticationErrorMessageTemplateConstant = "authentication failed: %s"
	navigationErrorMessageTemplateConstant     = "navigation failed: %s"
	stepNotFoundErrorMessageTemplateConstant   = "step %q not found in workflow %q"
	codeUpdateErrorMessageTemplateConstant     = "code update failed: %s"
	saveErrorMessageTemplateConstant           = "save failed: %s"
	validationErrorMessageTemplateConstant     = "validation failed: %s"
	configurationErrorMessageTemplateConstant  = "configuration invalid: %s"
)

// Sentinel errors used with errors.Is to classify failures by kind.
var (
	// ErrAuthentication indicates the interactive login did not complete.
	ErrAuthentication = errors.New("authentication error")
	// ErrNavigation indicates a workflow page failed to load.
	ErrNavigation = errors.New("navigation error")
	// ErrStepNotFound indicates no locator strategy matched a step.
	ErrStepNotFound = errors.New("step not found")
	// ErrCodeUpdate indicates the editor surface could not be updated.
	ErrCodeUpdate = errors.New("code update error")
	// ErrSave indicates the remote save did not settle.
	ErrSave = errors.New("save error")
	// ErrValidation indicates configuration or script validation failed.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration indicates the configuration file is missing or malformed.
	ErrConfiguration = errors.New("configuration error")
)

// AuthenticationError reports a failed or timed-out login.
type AuthenticationError struct {
	Reason string
}

// Error describes the authentication failure.
func (errorDetails AuthenticationError) Error() string {
	return fmt.Sprintf(authenticationErrorMessageTemplateConstant, errorDetails.Reason)
}

// Is matches the authentication sentinel.
func (errorDetails AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// NavigationError reports a workflow page that failed to load.
type NavigationError struct {
	Reason string
}

// Error describes the navigation failure.
func (errorDetails NavigationError) Error() string {
	return fmt.Sprintf(navigationErrorMessageTemplateConstant, errorDetails.Reason)
}

// Is matches the navigation sentinel.
func (errorDetails NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

// StepNotFoundError reports a step name no locator strategy could resolve.
type StepNotFoundError struct {
	StepName   string
	WorkflowID string
}

// Error describes the missing step.
func (errorDetails StepNotFoundError) Error() string {
	return fmt.Sprintf(stepNotFoundErrorMessageTemplateConstant, errorDetails.StepName, errorDetails.WorkflowID)
}

// Is matches the step-not-found sentinel.
func (errorDetails StepNotFoundError) Is(target error) bool {
	return target == ErrStepNotFound
}

// CodeUpdateError reports a code replacement that could not be performed.
type CodeUpdateError struct {
	Reason string
	Cause  error
}

// Error describes the code update failure.
func (errorDetails CodeUpdateError) Error() string {
	return fmt.Sprintf(codeUpdateErrorMessageTemplateConstant, errorDetails.Reason)
}

// Unwrap exposes the underlying cause.
func (errorDetails CodeUpdateError) Unwrap() error {
	return errorDetails.Cause
}

// Is matches the code update sentinel.
func (errorDetails CodeUpdateError) Is(target error) bool {
	return target == ErrCodeUpdate
}

// SaveError reports a remote save that did not settle.
type SaveError struct {
	Reason string
}

// Error describes the save failure.
func (errorDetails SaveError) Error() string {
	return fmt.Sprintf(saveErrorMessageTemplateConstant, errorDetails.Reason)
}

// Is matches the save sentinel.
func (errorDetails SaveError) Is(target error) bool {
	return target == ErrSave
}

// ValidationError reports invalid configuration values or script files.
type ValidationError struct {
	Reason string
}

// Error describes the validation failure.
func (errorDetails ValidationError) Error() string {
	return fmt.Sprintf(validationErrorMessageTemplateConstant, errorDetails.Reason)
}

// Is matches the validation sentinel.
func (errorDetails ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConfigurationError reports a missing or malformed configuration source.
type ConfigurationError struct {
	Reason string
	Cause  error
}

// Error describes the configuration failure.
func (errorDetails ConfigurationError) Error() string {
	return fmt.Sprintf(configurationErrorMessageTemplateConstant, errorDetails.Reason)
}

// Unwrap exposes the underlying cause.
func (errorDetails ConfigurationError) Unwrap() error {
	return errorDetails.Cause
}

// Is matches the configuration sentinel.
func (errorDetails ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
