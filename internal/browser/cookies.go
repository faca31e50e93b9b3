package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// SessionCookiesKeyConstant names the cache entry holding the encoded cookies.
	SessionCookiesKeyConstant = "FLOWSYNC_SESSION_COOKIES"

	// DefaultCookieCachePathConstant is the env-style file caching session cookies between runs.
	DefaultCookieCachePathConstant = ".env.local"

	cookieCacheLineTemplateConstant      = "%s=%s\n"
	cookieDecodeFailureTemplateConstant  = "unable to decode cached cookies: %v"
	cookieParseFailureTemplateConstant   = "invalid JSON in cached cookies: %v"
	cookieExpiredMessageTemplateConstant = "cookie %q has expired"
	cookieExpiringMessageTemplate        = "cookie %q expires in %.1f hours; a fresh interactive login may be needed soon"
	cookiesValidMessageConstant          = "all cached cookies are valid"
	cookieFilePermissionConstant         = 0o600

	nearExpiryWarningWindow = 24 * time.Hour
	sessionCookieExpiryFlag = -1
)

// CachedCookie is the persisted shape of one browser cookie.
type CachedCookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Expires float64 `json:"expires,omitempty"`
}

// EncodeCookies serializes cookies to the base64 JSON form stored in the cache file.
func EncodeCookies(cookies []CachedCookie) (string, error) {
	encodedJSON, marshalError := json.Marshal(cookies)
	if marshalError != nil {
		return "", marshalError
	}
	return base64.StdEncoding.EncodeToString(encodedJSON), nil
}

// DecodeCookies parses the base64 JSON cookie payload read from the cache file.
func DecodeCookies(encodedCookies string) ([]CachedCookie, error) {
	decodedJSON, decodeError := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedCookies))
	if decodeError != nil {
		return nil, fmt.Errorf(cookieDecodeFailureTemplateConstant, decodeError)
	}
	var cookies []CachedCookie
	if unmarshalError := json.Unmarshal(decodedJSON, &cookies); unmarshalError != nil {
		return nil, fmt.Errorf(cookieParseFailureTemplateConstant, unmarshalError)
	}
	return cookies, nil
}

// ValidateCookieExpiration reports whether the cookies are still usable and a
// human-readable status. Session cookies without an expiry are always usable.
func ValidateCookieExpiration(cookies []CachedCookie, now time.Time) (bool, string) {
	nowSeconds := float64(now.Unix())
	for _, cookie := range cookies {
		if cookie.Expires == 0 || cookie.Expires == sessionCookieExpiryFlag {
			continue
		}
		if cookie.Expires < nowSeconds {
			return false, fmt.Sprintf(cookieExpiredMessageTemplateConstant, cookie.Name)
		}
		if cookie.Expires < nowSeconds+nearExpiryWarningWindow.Seconds() {
			hoursLeft := (cookie.Expires - nowSeconds) / 3600
			return true, fmt.Sprintf(cookieExpiringMessageTemplate, cookie.Name, hoursLeft)
		}
	}
	return true, cookiesValidMessageConstant
}

// CookieCache reads and writes the single-key cookie entry of an env-style file,
// preserving every other line of the file.
type CookieCache struct {
	FilePath string
	KeyName  string
}

// NewCookieCache builds a cache over the provided env-style file path.
func NewCookieCache(filePath string) CookieCache {
	return CookieCache{FilePath: filePath, KeyName: SessionCookiesKeyConstant}
}

// Load returns the cached cookies when present and unexpired, or nil.
func (cache CookieCache) Load(now time.Time) []CachedCookie {
	fileContent, readError := os.ReadFile(cache.FilePath)
	if readError != nil {
		return nil
	}

	keyPrefix := cache.KeyName + "="
	for _, line := range strings.Split(string(fileContent), "\n") {
		trimmedLine := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmedLine, keyPrefix) {
			continue
		}
		cookies, decodeError := DecodeCookies(strings.TrimPrefix(trimmedLine, keyPrefix))
		if decodeError != nil {
			return nil
		}
		if usable, _ := ValidateCookieExpiration(cookies, now); !usable {
			return nil
		}
		return cookies
	}
	return nil
}

// Store writes the cookies under the cache key, replacing an existing entry and
// keeping all unrelated lines intact.
func (cache CookieCache) Store(cookies []CachedCookie) error {
	encodedCookies, encodeError := EncodeCookies(cookies)
	if encodeError != nil {
		return encodeError
	}

	cacheLine := fmt.Sprintf(cookieCacheLineTemplateConstant, cache.KeyName, encodedCookies)
	commentedKeyPrefix := "# " + cache.KeyName + "="

	existingContent, readError := os.ReadFile(cache.FilePath)
	if readError != nil && !os.IsNotExist(readError) {
		return readError
	}

	var rewrittenLines []string
	replaced := false
	if len(existingContent) > 0 {
		for _, line := range strings.Split(strings.TrimRight(string(existingContent), "\n"), "\n") {
			trimmedLine := strings.TrimSpace(line)
			if strings.HasPrefix(trimmedLine, cache.KeyName+"=") || strings.HasPrefix(trimmedLine, commentedKeyPrefix) {
				rewrittenLines = append(rewrittenLines, strings.TrimRight(cacheLine, "\n"))
				replaced = true
				continue
			}
			rewrittenLines = append(rewrittenLines, line)
		}
	}
	if !replaced {
		rewrittenLines = append(rewrittenLines, strings.TrimRight(cacheLine, "\n"))
	}

	rewrittenContent := strings.Join(rewrittenLines, "\n") + "\n"
	return os.WriteFile(cache.FilePath, []byte(rewrittenContent), cookieFilePermissionConstant)
}
