package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	clipboardWriteExpressionTemplateConstant = "navigator.clipboard.writeText(%s)"
	clipboardReadExpressionConstant          = "navigator.clipboard.readText()"
	pageTextExpressionConstant               = "document.body ? document.body.innerText : ''"
	screenshotQualityConstant                = 90

	tabContextMissingMessageConstant       = "browser tab context not initialized"
	unsupportedKeyCombinationTemplateConst = "unsupported key combination %q"
)

// ErrTabContextMissing indicates the driver was used before a session was opened.
var ErrTabContextMissing = errors.New(tabContextMissingMessageConstant)

// ChromeDriver implements Driver on top of a chromedp tab context.
type ChromeDriver struct {
	tabContext context.Context
}

// NewChromeDriver wraps an established chromedp tab context.
func NewChromeDriver(tabContext context.Context) *ChromeDriver {
	return &ChromeDriver{tabContext: tabContext}
}

func (driver *ChromeDriver) run(executionContext context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if driver.tabContext == nil {
		return ErrTabContextMissing
	}
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}

	runContext := driver.tabContext
	if timeout > 0 {
		var cancel context.CancelFunc
		runContext, cancel = context.WithTimeout(driver.tabContext, timeout)
		defer cancel()
	}
	return chromedp.Run(runContext, actions...)
}

// Navigate loads the provided URL and waits for the document to be ready.
func (driver *ChromeDriver) Navigate(executionContext context.Context, pageURL string, timeout time.Duration) error {
	return driver.run(executionContext, timeout, chromedp.Navigate(pageURL))
}

// WaitVisible blocks until the selector matches a visible element.
func (driver *ChromeDriver) WaitVisible(executionContext context.Context, selector string, timeout time.Duration) error {
	return driver.run(executionContext, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Click clicks the first visible element matched by the selector.
func (driver *ChromeDriver) Click(executionContext context.Context, selector string, timeout time.Duration) error {
	return driver.run(executionContext, timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// ClickAt dispatches a single click at viewport coordinates.
func (driver *ChromeDriver) ClickAt(executionContext context.Context, x float64, y float64) error {
	return driver.run(executionContext, 0, chromedp.MouseClickXY(x, y))
}

// DoubleClickAt dispatches a double click at viewport coordinates.
func (driver *ChromeDriver) DoubleClickAt(executionContext context.Context, x float64, y float64) error {
	return driver.run(executionContext, 0, chromedp.MouseClickXY(x, y, chromedp.ClickCount(2)))
}

// Evaluate runs a script in the page and unmarshals its JSON result.
func (driver *ChromeDriver) Evaluate(executionContext context.Context, expression string, result any) error {
	return driver.run(executionContext, 0, chromedp.Evaluate(expression, result))
}

// PressKeys issues a keyboard shortcut against the focused element.
func (driver *ChromeDriver) PressKeys(executionContext context.Context, combination KeyCombination) error {
	switch combination {
	case KeyCombinationSelectAll:
		return driver.run(executionContext, 0, chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)))
	case KeyCombinationCopy:
		return driver.run(executionContext, 0, chromedp.KeyEvent("c", chromedp.KeyModifiers(input.ModifierCtrl)))
	case KeyCombinationPaste:
		return driver.run(executionContext, 0, chromedp.KeyEvent("v", chromedp.KeyModifiers(input.ModifierCtrl)))
	case KeyCombinationSave:
		return driver.run(executionContext, 0, chromedp.KeyEvent("s", chromedp.KeyModifiers(input.ModifierCtrl)))
	case KeyCombinationEscape:
		return driver.run(executionContext, 0, chromedp.KeyEvent(kb.Escape))
	default:
		return fmt.Errorf(unsupportedKeyCombinationTemplateConst, string(combination))
	}
}

// ReadClipboard returns the current clipboard text via the page's clipboard API.
func (driver *ChromeDriver) ReadClipboard(executionContext context.Context) (string, error) {
	var clipboardContent string
	evaluationError := driver.run(executionContext, 0, chromedp.Evaluate(
		clipboardReadExpressionConstant,
		&clipboardContent,
		awaitPromise,
	))
	return clipboardContent, evaluationError
}

// WriteClipboard replaces the clipboard text via the page's clipboard API.
func (driver *ChromeDriver) WriteClipboard(executionContext context.Context, content string) error {
	expression := fmt.Sprintf(clipboardWriteExpressionTemplateConstant, javaScriptStringLiteral(content))
	return driver.run(executionContext, 0, chromedp.Evaluate(expression, nil, awaitPromise))
}

// PageText returns the rendered text of the current document body.
func (driver *ChromeDriver) PageText(executionContext context.Context) (string, error) {
	var renderedText string
	evaluationError := driver.run(executionContext, 0, chromedp.Evaluate(pageTextExpressionConstant, &renderedText))
	return renderedText, evaluationError
}

// CurrentURL returns the location of the active page.
func (driver *ChromeDriver) CurrentURL(executionContext context.Context) (string, error) {
	var currentLocation string
	locationError := driver.run(executionContext, 0, chromedp.Location(&currentLocation))
	return currentLocation, locationError
}

// CaptureScreenshot renders the current page as a PNG image.
func (driver *ChromeDriver) CaptureScreenshot(executionContext context.Context) ([]byte, error) {
	var imageBytes []byte
	captureError := driver.run(executionContext, 0, chromedp.FullScreenshot(&imageBytes, screenshotQualityConstant))
	return imageBytes, captureError
}

// Sleep pauses cooperatively, honoring context cancellation.
func (driver *ChromeDriver) Sleep(executionContext context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-executionContext.Done():
		return executionContext.Err()
	case <-timer.C:
		return nil
	}
}
