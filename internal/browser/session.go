package browser

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultProfileDirectoryConstant = ".tmp/browser_profile"

	automationControlledFlagNameConstant  = "disable-blink-features"
	automationControlledFlagValueConstant = "AutomationControlled"
	enableAutomationFlagNameConstant      = "enable-automation"
	headlessFlagNameConstant              = "headless"

	loggedInProbeExpressionConstant = `!!document.querySelector("[data-testid='user-menu'], .user-avatar, nav a[href*='/workflows']")`
	workflowsPathMarkerConstant     = "/workflows"
	projectsPathMarkerConstant      = "/projects"

	sessionNotOpenMessageConstant    = "browser session not open"
	sessionAlreadyOpenMessageConst   = "browser session already open"
	loginBannerMessageConstant       = "interactive login required: complete the sign-in flow in the opened browser window"
	loginStillWaitingMessageConstant = "still waiting for login"
	loginDetectedMessageConstant     = "login detected"
	cookiesRestoredMessageConstant   = "cached session cookies restored"
	cookiesPersistedMessageConstant  = "session cookies cached for future runs"
	cookiePersistFailedMessageConst  = "unable to cache session cookies"
	sessionClosedMessageConstant     = "browser session closed"

	logFieldCookieCountConstant    = "cookie_count"
	logFieldElapsedSecondsConstant = "elapsed_seconds"

	profileDirectoryPermissionConstant = 0o755
	loginPollInterval                  = 2 * time.Second
	loginProgressInterval              = 30 * time.Second
	loginNavigationTimeout             = 60 * time.Second
)

// Sentinel errors for session lifecycle misuse.
var (
	ErrSessionNotOpen     = errors.New(sessionNotOpenMessageConstant)
	ErrSessionAlreadyOpen = errors.New(sessionAlreadyOpenMessageConst)
)

// SessionOptions configures the persistent browser session.
type SessionOptions struct {
	ProfileDirectory string
	Headless         bool
	ViewportWidth    int
	ViewportHeight   int
	BaseURL          string
	CookieCachePath  string
}

// SessionManager owns the persistent browser profile, the authenticated tab,
// and the cookie cache shared across runs.
type SessionManager struct {
	options         SessionOptions
	logger          *zap.Logger
	cookieCache     CookieCache
	allocatorCancel context.CancelFunc
	tabCancel       context.CancelFunc
	tabContext      context.Context
	driver          *ChromeDriver
}

// NewSessionManager builds a session manager for the provided options.
func NewSessionManager(logger *zap.Logger, options SessionOptions) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(options.ProfileDirectory) == 0 {
		options.ProfileDirectory = defaultProfileDirectoryConstant
	}
	if len(options.CookieCachePath) == 0 {
		options.CookieCachePath = DefaultCookieCachePathConstant
	}
	return &SessionManager{
		options:     options,
		logger:      logger,
		cookieCache: NewCookieCache(options.CookieCachePath),
	}
}

// Open launches the browser with a persistent profile, clipboard permissions,
// and automation-detection markers suppressed, then restores cached cookies.
func (manager *SessionManager) Open(executionContext context.Context) (*ChromeDriver, error) {
	if manager.driver != nil {
		return nil, ErrSessionAlreadyOpen
	}

	if directoryError := os.MkdirAll(manager.options.ProfileDirectory, profileDirectoryPermissionConstant); directoryError != nil {
		return nil, directoryError
	}

	allocatorOptions := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocatorOptions = append(allocatorOptions,
		chromedp.UserDataDir(manager.options.ProfileDirectory),
		chromedp.Flag(headlessFlagNameConstant, manager.options.Headless),
		chromedp.Flag(automationControlledFlagNameConstant, automationControlledFlagValueConstant),
		chromedp.Flag(enableAutomationFlagNameConstant, false),
		chromedp.WindowSize(manager.options.ViewportWidth, manager.options.ViewportHeight),
	)

	allocatorContext, allocatorCancel := chromedp.NewExecAllocator(executionContext, allocatorOptions...)
	tabContext, tabCancel := chromedp.NewContext(allocatorContext)

	startupActions := []chromedp.Action{
		browser.GrantPermissions([]browser.PermissionType{
			browser.PermissionTypeClipboardReadWrite,
			browser.PermissionTypeClipboardSanitizedWrite,
		}),
	}
	if cachedCookies := manager.cookieCache.Load(time.Now()); len(cachedCookies) > 0 {
		startupActions = append(startupActions, restoreCookiesAction(cachedCookies))
		manager.logger.Debug(cookiesRestoredMessageConstant, zap.Int(logFieldCookieCountConstant, len(cachedCookies)))
	}

	if startupError := chromedp.Run(tabContext, startupActions...); startupError != nil {
		tabCancel()
		allocatorCancel()
		return nil, startupError
	}

	manager.allocatorCancel = allocatorCancel
	manager.tabCancel = tabCancel
	manager.tabContext = tabContext
	manager.driver = NewChromeDriver(tabContext)
	return manager.driver, nil
}

// WaitForLogin navigates to the workbench and polls every two seconds for a
// logged-in UI marker or a workflows/projects URL path. It returns true as soon
// as either signal appears and false when the timeout elapses.
func (manager *SessionManager) WaitForLogin(executionContext context.Context, timeout time.Duration) (bool, error) {
	if manager.driver == nil {
		return false, ErrSessionNotOpen
	}

	if navigationError := manager.driver.Navigate(executionContext, manager.options.BaseURL, loginNavigationTimeout); navigationError != nil {
		return false, navigationError
	}

	loggedIn, probeError := manager.probeLoggedIn(executionContext)
	if probeError == nil && loggedIn {
		return true, nil
	}

	manager.logger.Info(loginBannerMessageConstant)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sleepError := manager.driver.Sleep(executionContext, loginPollInterval); sleepError != nil {
			return false, sleepError
		}

		loggedIn, probeError = manager.probeLoggedIn(executionContext)
		if probeError == nil && loggedIn {
			manager.logger.Info(loginDetectedMessageConstant)
			return true, nil
		}

		elapsed := timeout - time.Until(deadline)
		if elapsed > 0 && elapsed%loginProgressInterval < loginPollInterval {
			manager.logger.Info(loginStillWaitingMessageConstant, zap.Int(logFieldElapsedSecondsConstant, int(elapsed.Seconds())))
		}
	}
	return false, nil
}

func (manager *SessionManager) probeLoggedIn(executionContext context.Context) (bool, error) {
	var markerPresent bool
	if evaluateError := manager.driver.Evaluate(executionContext, loggedInProbeExpressionConstant, &markerPresent); evaluateError != nil {
		return false, evaluateError
	}
	if markerPresent {
		return true, nil
	}

	currentURL, locationError := manager.driver.CurrentURL(executionContext)
	if locationError != nil {
		return false, locationError
	}
	return strings.Contains(currentURL, workflowsPathMarkerConstant) || strings.Contains(currentURL, projectsPathMarkerConstant), nil
}

// Close persists workbench cookies to the cache and releases all browser
// resources. It is safe to call on every exit path.
func (manager *SessionManager) Close() {
	if manager.driver == nil {
		return
	}

	manager.persistCookies()

	if manager.tabCancel != nil {
		manager.tabCancel()
	}
	if manager.allocatorCancel != nil {
		manager.allocatorCancel()
	}

	manager.driver = nil
	manager.tabContext = nil
	manager.logger.Debug(sessionClosedMessageConstant)
}

func (manager *SessionManager) persistCookies() {
	domainFilter := cookieDomainFilter(manager.options.BaseURL)
	if len(domainFilter) == 0 || len(manager.options.CookieCachePath) == 0 {
		return
	}

	var workbenchCookies []CachedCookie
	collectAction := chromedp.ActionFunc(func(actionContext context.Context) error {
		allCookies, cookieError := storage.GetCookies().Do(actionContext)
		if cookieError != nil {
			return cookieError
		}
		for _, cookie := range allCookies {
			if !strings.Contains(cookie.Domain, domainFilter) {
				continue
			}
			workbenchCookies = append(workbenchCookies, CachedCookie{
				Name:    cookie.Name,
				Value:   cookie.Value,
				Domain:  cookie.Domain,
				Expires: cookie.Expires,
			})
		}
		return nil
	})

	if collectError := chromedp.Run(manager.tabContext, collectAction); collectError != nil {
		manager.logger.Debug(cookiePersistFailedMessageConst, zap.Error(collectError))
		return
	}
	if len(workbenchCookies) == 0 {
		return
	}
	if storeError := manager.cookieCache.Store(workbenchCookies); storeError != nil {
		manager.logger.Debug(cookiePersistFailedMessageConst, zap.Error(storeError))
		return
	}
	manager.logger.Debug(cookiesPersistedMessageConstant, zap.Int(logFieldCookieCountConstant, len(workbenchCookies)))
}

func restoreCookiesAction(cookies []CachedCookie) chromedp.Action {
	return chromedp.ActionFunc(func(actionContext context.Context) error {
		cookieParameters := make([]*network.CookieParam, 0, len(cookies))
		for _, cookie := range cookies {
			parameter := &network.CookieParam{
				Name:   cookie.Name,
				Value:  cookie.Value,
				Domain: cookie.Domain,
			}
			if cookie.Expires > 0 {
				expiry := cdp.TimeSinceEpoch(time.Unix(int64(cookie.Expires), 0))
				parameter.Expires = &expiry
			}
			cookieParameters = append(cookieParameters, parameter)
		}
		return storage.SetCookies(cookieParameters).Do(actionContext)
	})
}

// cookieDomainFilter extracts the registrable host fragment used to scope which
// cookies belong to the workbench.
func cookieDomainFilter(baseURL string) string {
	parsedURL, parseError := url.Parse(baseURL)
	if parseError != nil || len(parsedURL.Host) == 0 {
		return ""
	}
	host := parsedURL.Hostname()
	return strings.TrimPrefix(host, "www.")
}
