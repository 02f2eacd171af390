package transfer

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func TestDirSinkNeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatalf("NewDirSink: %v", err)
	}

	for _, body := range []string{"first", "second"} {
		if err := sink.Save("report.txt", "text/plain", []byte(body)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := sink.Save("../../escape.txt", "text/plain", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := []string{
		filepath.Join(dir, "report.txt"),
		filepath.Join(dir, "report (1).txt"),
		filepath.Join(dir, "escape.txt"),
	}
	if len(sink.Paths) != len(want) {
		t.Fatalf("Paths = %v", sink.Paths)
	}
	for i, p := range want {
		if sink.Paths[i] != p {
			t.Errorf("Paths[%d] = %q, want %q", i, sink.Paths[i], p)
		}
	}

	got, err := os.ReadFile(want[1])
	if err != nil || string(got) != "second" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
}

func TestArchiveSinkCollectsBatch(t *testing.T) {
	target := filepath.Join(t.TempDir(), "batch.zip")
	sink, err := NewArchiveSink(target)
	if err != nil {
		t.Fatalf("NewArchiveSink: %v", err)
	}

	files := map[string]string{"a.txt": "alpha", "b.bin": "beta"}
	for _, name := range []string{"a.txt", "b.bin", "a.txt"} {
		if err := sink.Save(name, "", []byte(files[name])); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := zip.OpenReader(sink.Path())
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	names := []string{"a.txt", "b.bin", "a (1).txt"}
	if len(r.File) != len(names) {
		t.Fatalf("archive has %d entries", len(r.File))
	}
	for i, f := range r.File {
		if f.Name != names[i] {
			t.Errorf("entry %d = %q, want %q", i, f.Name, names[i])
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if len(body) == 0 {
			t.Errorf("entry %s is empty", f.Name)
		}
	}
}
