package integrations

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const httpTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the index.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")

	// ErrTooLarge is returned by [Client.Download] when a body exceeds its limit.
	ErrTooLarge = errors.New("response too large")
)

// NewHTTPClient creates an HTTP client with a standard timeout for index requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

var separatorRunRE = regexp.MustCompile(`[-_.]+`)

// NormalizePkgName converts a package name to its canonical form.
// Applies lowercase and collapses runs of "-", "_" and "." into a single
// hyphen, following PEP 503 normalization rules used by PyPI.
func NormalizePkgName(name string) string {
	return separatorRunRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

var homepageKeys = []string{"Homepage", "Home", "homepage", "Source", "Source Code", "Repository", "Documentation"}

// HomepageURL picks the project's homepage. An explicit homepage wins;
// otherwise project URLs are searched by their conventional labels.
// Returns "" when nothing usable is found.
func HomepageURL(homepage string, urls map[string]string) string {
	if u := strings.TrimSpace(homepage); isHTTPURL(u) {
		return u
	}
	for _, key := range homepageKeys {
		if u, ok := urls[key]; ok && isHTTPURL(u) {
			return strings.TrimSpace(u)
		}
	}
	return ""
}

func isHTTPURL(u string) bool {
	u = strings.TrimSpace(u)
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
