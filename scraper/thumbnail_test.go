package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestSanitizeTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Map", "Map"},
		{"They Hunger: 1", "They_Hunger__1"},
		{"de_dust-2", "de_dust-2"},
		{"Café (remix)", "Caf___remix_"},
		{"../../etc/passwd", "______etc_passwd"},
	}
	for _, tc := range cases {
		if got := SanitizeTitle(tc.in); got != tc.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaterializeDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF})
	}))
	defer server.Close()

	dir := t.TempDir()
	m := NewMaterializer(NewClient(5*time.Second), dir, nil, nil)

	first := m.Materialize(context.Background(), server.URL+"/thumb.jpg", "Sven Map", 4)
	second := m.Materialize(context.Background(), server.URL+"/thumb.jpg", "Sven Map", 4)

	want := filepath.Join(dir, "Sven_Map_4.jpg")
	if first != want || second != want {
		t.Fatalf("unexpected paths %q %q, want %q", first, second, want)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one network fetch, got %d", got)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("unexpected thumbnail size %d", len(data))
	}
}

func TestMaterializeFailureLeavesEmptyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	m := NewMaterializer(NewClient(5*time.Second), dir, nil, nil)

	if got := m.Materialize(context.Background(), server.URL, "Broken", 1); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
	if got := m.Materialize(context.Background(), "", "NoThumb", 1); got != "" {
		t.Fatalf("expected empty path for missing source, got %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d", len(entries))
	}
}
