package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/store/memory"
)

const catalogV1 = `
endpoints:
  - id: edge-1
    uri: https://edge-1.example/api
    credential:
      ca: CA
      bundle: BUNDLE
`

const catalogV2 = catalogV1 + `  - id: edge-2
    uri: http://edge-2.example/api
`

func TestCatalogReloader_ImportsAndWatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogV1), 0o600); err != nil {
		t.Fatal(err)
	}

	st := memory.New()
	changed := make(chan struct{}, 8)
	cr := NewCatalogReloader(path, st, logger.Nop(), func() { changed <- struct{}{} })

	if err := cr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer cr.Stop()

	eps, _ := st.ListEndpoints(context.Background())
	if len(eps) != 1 {
		t.Fatalf("imported %d endpoints, want 1", len(eps))
	}
	cred, _ := st.GetCredential(context.Background(), "edge-1")
	if cred == nil || string(cred.CARoot) != "CA" {
		t.Fatalf("credential not imported: %+v", cred)
	}

	if err := os.WriteFile(path, []byte(catalogV2), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("catalog change was not detected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		eps, _ = st.ListEndpoints(context.Background())
		if len(eps) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("have %d endpoints after reload, want 2", len(eps))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCatalogReloader_InvalidCatalogWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	bad := `
endpoints:
  - id: ok
    uri: http://ok.example
  - id: broken
    uri: ftp://broken.example
`
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	st := memory.New()
	cr := NewCatalogReloader(path, st, logger.Nop(), nil)
	if err := cr.Start(context.Background()); err == nil {
		cr.Stop()
		t.Fatal("Start() should fail on an invalid catalog")
	}

	eps, _ := st.ListEndpoints(context.Background())
	if len(eps) != 0 {
		t.Errorf("invalid catalog wrote %d endpoints", len(eps))
	}
}
