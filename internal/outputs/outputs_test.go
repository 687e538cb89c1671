package outputs

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func writeFile(t *testing.T, d *Dir, name, content string, modTime time.Time) {
	t.Helper()
	path := filepath.Join(d.Root(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	d := newTestDir(t)
	now := time.Now()
	writeFile(t, d, "old.mp4", "a", now.Add(-2*time.Hour))
	writeFile(t, d, "new.mp4", "bb", now)
	writeFile(t, d, "mid.mp4", "ccc", now.Add(-time.Hour))
	writeFile(t, d, "notes.txt", "skip me", now) // non-mp4 is invisible

	files, err := d.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v", files)
	}
	if files[0].Filename != "new.mp4" || files[1].Filename != "mid.mp4" || files[2].Filename != "old.mp4" {
		t.Errorf("order = %s, %s, %s", files[0].Filename, files[1].Filename, files[2].Filename)
	}
	if files[0].Size != 2 {
		t.Errorf("size = %d", files[0].Size)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "ok.mp4", "x", time.Time{})

	if _, err := d.Path("ok.mp4"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}

	for _, bad := range []string{"../etc/passwd", "..", "a/../../b.mp4", "sub/dir.mp4", ""} {
		if _, err := d.Path(bad); err == nil {
			t.Errorf("Path(%q) should fail", bad)
		}
	}

	if _, err := d.Path("missing.mp4"); err == nil {
		t.Error("missing file should fail")
	}
}

func TestDelete(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "gone.mp4", "x", time.Time{})

	if err := d.Delete("gone.mp4"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d.Root(), "gone.mp4")); !os.IsNotExist(err) {
		t.Error("file still present after delete")
	}
	if err := d.Delete("gone.mp4"); err == nil {
		t.Error("deleting a missing file should fail")
	}
}

func TestWriteArchive(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "a.mp4", "content-a", time.Time{})
	writeFile(t, d, "b.mp4", "content-b", time.Time{})

	var buf bytes.Buffer
	if err := d.WriteArchive(&buf, []string{"a.mp4", "b.mp4"}); err != nil {
		t.Fatalf("WriteArchive failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	// Entries use ZIP method 93 (Zstandard); register a decompressor to
	// read them back.
	zr.RegisterDecompressor(zipMethodZstd, func(r io.Reader) io.ReadCloser {
		zd, err := zstd.NewReader(r)
		if err != nil {
			t.Fatalf("zstd reader: %v", err)
		}
		return zd.IOReadCloser()
	})

	if len(zr.File) != 2 {
		t.Fatalf("entries = %d", len(zr.File))
	}
	for i, want := range []string{"content-a", "content-b"} {
		f := zr.File[i]
		if f.Method != zipMethodZstd {
			t.Errorf("entry %s method = %d", f.Name, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		if string(data) != want {
			t.Errorf("entry %s = %q", f.Name, data)
		}
	}
}

func TestWriteArchiveAllFiles(t *testing.T) {
	d := newTestDir(t)
	writeFile(t, d, "a.mp4", "x", time.Time{})
	writeFile(t, d, "b.mp4", "y", time.Time{})

	var buf bytes.Buffer
	if err := d.WriteArchive(&buf, nil); err != nil {
		t.Fatalf("WriteArchive failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("entries = %d", len(zr.File))
	}
}

func TestWriteArchiveEmpty(t *testing.T) {
	d := newTestDir(t)
	var buf bytes.Buffer
	if err := d.WriteArchive(&buf, nil); err == nil {
		t.Error("empty directory should fail to archive")
	}
}

func TestContainsPathTraversal(t *testing.T) {
	for _, p := range []string{"..", "../x", "a/../b"} {
		if !ContainsPathTraversal(p) {
			t.Errorf("ContainsPathTraversal(%q) = false", p)
		}
	}
	for _, p := range []string{"a.mp4", "sub/a.mp4", "..hidden.mp4"} {
		if ContainsPathTraversal(p) {
			t.Errorf("ContainsPathTraversal(%q) = true", p)
		}
	}
}
