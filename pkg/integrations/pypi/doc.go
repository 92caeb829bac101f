// Package pypi provides an HTTP client for the Python Package Index JSON API.
//
// # Overview
//
// This package fetches project and release metadata from PyPI
// (https://pypi.org) or any mirror that serves the same JSON API.
//
// # Usage
//
//	backend, _ := cache.NewMemoryCache(0)
//	client := pypi.NewClient(backend, 0)
//
//	project, err := client.Fetch(ctx, "requests", "")       // all releases
//	release, err := client.Fetch(ctx, "requests", "2.31.0") // one release
//
// # Records
//
// [Client.Fetch] returns an [integrations.Record] containing:
//
//   - Name, Version: package identity
//   - Summary, HomePage: descriptive metadata
//   - License, LicenseExpression, Classifiers: raw license declarations
//   - RequiresDist: raw dependency specifiers, markers included
//   - Files: distribution files of Version with md5/sha256 digests
//   - Releases: every published version (project records only)
//
// Interpreting the record (choosing a version, filtering dependencies,
// picking a license) is left to the caller.
//
// # Caching
//
// Decoded responses are cached per normalized name and version, so
// "Flask", "flask" and "FLASK" cost one request per run.
package pypi
