package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEntryName(t *testing.T) {
	cases := []struct {
		in   Entry
		idx  int
		want string
	}{
		{Entry{Name: "clips/a-0.mp4"}, 0, "clips/a-0.mp4"},
		{Entry{Name: "/metadata.csv"}, 1, "metadata.csv"},
		{Entry{Name: "  ", Path: "/work/clusters.json"}, 2, "clusters.json"},
		{Entry{}, 3, "file-4"},
	}
	for _, c := range cases {
		if got := entryName(c.in, c.idx); got != c.want {
			t.Fatalf("entryName(%+v,%d)=%q want %q", c.in, c.idx, got, c.want)
		}
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestBuildArchive_DatasetLayout(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "clips", "b-0.mp4"), "b0")
	writeFile(t, filepath.Join(work, "clips", "a-1.mp4"), "a1")
	writeFile(t, filepath.Join(work, "clips", "c-0.mp4"), "partial")
	writeFile(t, filepath.Join(work, "metadata.csv"), "name\n")
	writeFile(t, filepath.Join(work, "clusters.json"), "{}")

	clips := []string{filepath.Join(work, "clips", "b-0.mp4"), filepath.Join(work, "clips", "a-1.mp4")}
	entries := Layout(clips, filepath.Join(work, "metadata.csv"), filepath.Join(work, "clusters.json"))
	dest := filepath.Join(work, "result.zip")
	results, err := BuildArchive(context.Background(), dest, entries)
	if err != nil {
		t.Fatalf("BuildArchive error: %v", err)
	}
	for _, r := range results {
		if r.Err != "" {
			t.Fatalf("unexpected entry failure: %+v", r)
		}
	}

	zr, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		if f.Method != zip.Deflate {
			t.Fatalf("%s stored with method %d, want deflate", f.Name, f.Method)
		}
		names = append(names, f.Name)
	}
	want := "clips/a-1.mp4,clips/b-0.mp4,metadata.csv,clusters.json"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("zip entries %q want %q", got, want)
	}

	leftovers, _ := filepath.Glob(filepath.Join(work, ".zip-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestBuildArchive_MissingEntryReported(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "metadata.csv"), "name\n")
	entries := []Entry{
		{Name: "metadata.csv", Path: filepath.Join(work, "metadata.csv")},
		{Name: "clusters.json", Path: filepath.Join(work, "missing.json")},
	}
	results, err := BuildArchive(context.Background(), filepath.Join(work, "out.zip"), entries)
	if err != nil {
		t.Fatalf("BuildArchive error: %v", err)
	}
	if results[0].Err != "" || results[1].Err == "" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestBuildArchive_CancelledLeavesNoFile(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "metadata.csv"), "name\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(work, "out.zip")
	_, err := BuildArchive(ctx, dest, []Entry{{Name: "metadata.csv", Path: filepath.Join(work, "metadata.csv")}})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no archive after cancel, stat err=%v", statErr)
	}
}

func TestBuildArchive_NoEntries(t *testing.T) {
	_, err := BuildArchive(context.Background(), filepath.Join(t.TempDir(), "x.zip"), nil)
	if err == nil || !strings.Contains(err.Error(), "no entries") {
		t.Fatalf("expected error for no entries, got %v", err)
	}
}
