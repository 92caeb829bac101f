package integrations_test

import (
	"fmt"

	"github.com/matzehuels/piprecipes/pkg/integrations"
)

func ExampleNormalizePkgName() {
	// Package names are normalized to lowercase with hyphens
	fmt.Println(integrations.NormalizePkgName("FastAPI"))
	fmt.Println(integrations.NormalizePkgName("my_package"))
	fmt.Println(integrations.NormalizePkgName("zope.interface"))
	fmt.Println(integrations.NormalizePkgName("  Spaces  "))
	// Output:
	// fastapi
	// my-package
	// zope-interface
	// spaces
}

func ExampleSdist() {
	files := []integrations.File{
		{Filename: "requests-2.31.0-py3-none-any.whl", PackageType: "bdist_wheel"},
		{Filename: "requests-2.31.0.tar.gz", PackageType: "sdist"},
	}

	if f, ok := integrations.Sdist(files); ok {
		fmt.Println(f.Filename)
	}
	// Output:
	// requests-2.31.0.tar.gz
}

func Example_errors() {
	// Standard errors for index operations
	fmt.Println("ErrNotFound:", integrations.ErrNotFound)
	fmt.Println("ErrNetwork:", integrations.ErrNetwork)
	// Output:
	// ErrNotFound: resource not found
	// ErrNetwork: network error
}
