package pypi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/matzehuels/piprecipes/pkg/cache"
	"github.com/matzehuels/piprecipes/pkg/integrations"
)

// DefaultBaseURL is the PyPI JSON API root.
const DefaultBaseURL = "https://pypi.org/pypi"

// Client provides access to the PyPI JSON API.
// It handles HTTP requests with caching and automatic retries.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a PyPI client with the given cache backend.
//
// Parameters:
//   - backend: Cache for decoded responses (nil disables caching)
//   - cacheTTL: How long responses are cached; 0 keeps them for the run
//
// The returned Client is safe for concurrent use.
func NewClient(backend cache.Cache, cacheTTL time.Duration) *Client {
	return &Client{
		Client:  integrations.NewClient(backend, "pypi", cacheTTL, map[string]string{"Accept": "application/json"}),
		baseURL: DefaultBaseURL,
	}
}

// SetBaseURL points the client at a PyPI-compatible JSON API mirror.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// BaseURL returns the JSON API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Fetch retrieves the record of a project, or of one release when version is
// not empty. The name is normalized automatically (PEP 503).
//
// Returns:
//   - the Record on success
//   - [integrations.ErrNotFound] if the project or release doesn't exist
//   - [integrations.ErrNetwork] for HTTP failures that outlived the retry budget
//   - Other errors for JSON decoding failures
//
// This method is safe for concurrent use.
func (c *Client) Fetch(ctx context.Context, name, version string) (*integrations.Record, error) {
	name = integrations.NormalizePkgName(name)
	if name == "" {
		return nil, fmt.Errorf("pypi: empty package name")
	}

	key := name
	endpoint := fmt.Sprintf("%s/%s/json", c.baseURL, url.PathEscape(name))
	if version != "" {
		key = name + "@" + version
		endpoint = fmt.Sprintf("%s/%s/%s/json", c.baseURL, url.PathEscape(name), url.PathEscape(version))
	}

	var rec integrations.Record
	err := c.Cached(ctx, key, false, &rec, func() error {
		return c.fetch(ctx, endpoint, &rec)
	})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			if version != "" {
				return nil, fmt.Errorf("%w: pypi release %s %s", err, name, version)
			}
			return nil, fmt.Errorf("%w: pypi package %s", err, name)
		}
		return nil, err
	}
	return &rec, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, rec *integrations.Record) error {
	var data apiResponse
	if err := c.Get(ctx, endpoint, &data); err != nil {
		return err
	}

	urls := make(map[string]string, len(data.Info.ProjectURLs))
	for k, v := range data.Info.ProjectURLs {
		if s, ok := v.(string); ok {
			urls[k] = s
		}
	}

	*rec = integrations.Record{
		Name:              data.Info.Name,
		Version:           data.Info.Version,
		Summary:           strings.TrimSpace(data.Info.Summary),
		HomePage:          integrations.HomepageURL(data.Info.HomePage, urls),
		License:           data.Info.License,
		LicenseExpression: data.Info.LicenseExpression,
		Classifiers:       data.Info.Classifiers,
		RequiresDist:      data.Info.RequiresDist,
		Files:             convertFiles(data.URLs),
	}
	if len(data.Releases) > 0 {
		rec.Releases = make(map[string][]integrations.File, len(data.Releases))
		for v, files := range data.Releases {
			rec.Releases[v] = convertFiles(files)
		}
	}
	return nil
}

func convertFiles(files []apiFile) []integrations.File {
	if len(files) == 0 {
		return nil
	}
	out := make([]integrations.File, 0, len(files))
	for _, f := range files {
		md5 := f.Digests.MD5
		if md5 == "" {
			md5 = f.MD5Digest
		}
		out = append(out, integrations.File{
			Filename:    f.Filename,
			URL:         f.URL,
			PackageType: f.PackageType,
			MD5:         md5,
			SHA256:      f.Digests.SHA256,
			Size:        f.Size,
			Yanked:      f.Yanked,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

type apiResponse struct {
	Info     apiInfo              `json:"info"`
	URLs     []apiFile            `json:"urls"`
	Releases map[string][]apiFile `json:"releases"`
}

type apiInfo struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	Summary           string         `json:"summary"`
	License           string         `json:"license"`
	LicenseExpression string         `json:"license_expression"`
	Classifiers       []string       `json:"classifiers"`
	RequiresDist      []string       `json:"requires_dist"`
	ProjectURLs       map[string]any `json:"project_urls"`
	HomePage          string         `json:"home_page"`
}

type apiFile struct {
	Filename    string     `json:"filename"`
	URL         string     `json:"url"`
	PackageType string     `json:"packagetype"`
	Digests     apiDigests `json:"digests"`
	MD5Digest   string     `json:"md5_digest"`
	Size        int64      `json:"size"`
	Yanked      bool       `json:"yanked"`
}

type apiDigests struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
}
