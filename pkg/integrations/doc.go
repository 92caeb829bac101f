// Package integrations provides HTTP clients for package index APIs.
//
// # Overview
//
// This package contains the shared plumbing for talking to a package index.
// The PyPI JSON API client lives in the [pypi] subpackage.
//
// # Client Pattern
//
// Index clients embed [Client] and describe what they fetch as a [Record]:
//
//	client := pypi.NewClient(backend, 0)
//	rec, err := client.Fetch(ctx, "requests", "")        // project record
//	rel, err := client.Fetch(ctx, "requests", "2.31.0")  // release record
//
// The shared [Client] handles:
//   - Read-through caching of decoded responses via [cache.Cache]
//   - Bounded retry of transient failures ([httputil.Policy])
//   - Status mapping: 404 to [ErrNotFound], 429 and 5xx to a retryable [ErrNetwork]
//   - HTTP instrumentation through [observability.HTTP]
//
// [pypi]: github.com/matzehuels/piprecipes/pkg/integrations/pypi
// [cache.Cache]: github.com/matzehuels/piprecipes/pkg/cache.Cache
// [httputil.Policy]: github.com/matzehuels/piprecipes/pkg/httputil.Policy
// [observability.HTTP]: github.com/matzehuels/piprecipes/pkg/observability.HTTP
package integrations
