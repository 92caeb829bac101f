//go:build integration

package pypi

import (
	"context"
	"testing"
	"time"

	"github.com/matzehuels/piprecipes/pkg/integrations"
)

func TestFetch_Integration(t *testing.T) {
	client := NewClient(nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tests := []struct {
		name    string
		pkg     string
		version string
		wantErr bool
	}{
		{"requests project", "requests", "", false},
		{"requests release", "requests", "2.31.0", false},
		{"nonexistent", "this-package-should-not-exist-12345", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := client.Fetch(ctx, tt.pkg, tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fetch(%q, %q) error = %v, wantErr %v", tt.pkg, tt.version, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if rec.Name == "" {
				t.Error("package name should not be empty")
			}
			if tt.version == "" && len(rec.Releases) == 0 {
				t.Error("project record should list releases")
			}
			if tt.version != "" {
				if _, ok := integrations.Sdist(rec.Files); !ok {
					t.Error("release should have an sdist")
				}
			}
		})
	}
}
