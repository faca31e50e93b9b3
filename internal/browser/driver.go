// Package browser provides the automation driver capability used by the
// deployment engine together with its Chromium-backed implementation and the
// persistent session manager.
package browser

import (
	"context"
	"time"
)

// KeyCombination identifies a keyboard shortcut issued against the active page.
type KeyCombination string

// Supported key combinations.
const (
	KeyCombinationSelectAll KeyCombination = "select-all"
	KeyCombinationCopy      KeyCombination = "copy"
	KeyCombinationPaste     KeyCombination = "paste"
	KeyCombinationSave      KeyCombination = "save"
	KeyCombinationEscape    KeyCombination = "escape"
)

// Driver exposes the browser capabilities the deployment engine depends on.
// Every blocking operation accepts a context and an explicit bound where the
// remote page is awaited.
type Driver interface {
	// Navigate loads the provided URL in the active page.
	Navigate(executionContext context.Context, pageURL string, timeout time.Duration) error
	// WaitVisible blocks until the selector matches a visible element.
	WaitVisible(executionContext context.Context, selector string, timeout time.Duration) error
	// Click clicks the first element matched by the selector.
	Click(executionContext context.Context, selector string, timeout time.Duration) error
	// ClickAt dispatches a single click at viewport coordinates.
	ClickAt(executionContext context.Context, x float64, y float64) error
	// DoubleClickAt dispatches a double click at viewport coordinates.
	DoubleClickAt(executionContext context.Context, x float64, y float64) error
	// Evaluate runs a script in the page and unmarshals its JSON result.
	Evaluate(executionContext context.Context, expression string, result any) error
	// PressKeys issues a keyboard shortcut against the focused element.
	PressKeys(executionContext context.Context, combination KeyCombination) error
	// ReadClipboard returns the current clipboard text.
	ReadClipboard(executionContext context.Context) (string, error)
	// WriteClipboard replaces the clipboard text.
	WriteClipboard(executionContext context.Context, content string) error
	// PageText returns the rendered text of the current document body.
	PageText(executionContext context.Context) (string, error)
	// CurrentURL returns the location of the active page.
	CurrentURL(executionContext context.Context) (string, error)
	// CaptureScreenshot renders the current page as a PNG image.
	CaptureScreenshot(executionContext context.Context) ([]byte, error)
	// Sleep pauses cooperatively, honoring context cancellation.
	Sleep(executionContext context.Context, duration time.Duration) error
}
