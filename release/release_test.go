// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// buildTar returns a tar archive containing the given files.
func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	return buf.Bytes()
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func lz4Compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	lw := lz4.NewWriter(&buf)
	if _, err := lw.Write(data); err != nil {
		t.Fatalf("lz4 write: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}
	return buf.Bytes()
}

func digestOf(data []byte) string {
	hasher := blake3.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func TestDetectCompression(t *testing.T) {
	plain := buildTar(t, map[string]string{"bin/start": "#!/bin/sh\n"})

	cases := []struct {
		name string
		data []byte
		want Compression
	}{
		{"plain tar", plain, CompressionNone},
		{"zstd", zstdCompress(t, plain), CompressionZstd},
		{"lz4", lz4Compress(t, plain), CompressionLZ4},
		{"short header", []byte{0x28}, CompressionNone},
	}
	for _, tc := range cases {
		if got := DetectCompression(tc.data); got != tc.want {
			t.Errorf("%s: DetectCompression = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestCompressionNames(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		parsed, err := CompressionFromName(c.String())
		if err != nil {
			t.Fatalf("CompressionFromName(%q): %v", c.String(), err)
		}
		if parsed != c {
			t.Errorf("name roundtrip: %s -> %s", c, parsed)
		}
	}
	if _, err := CompressionFromName("gzip"); err == nil {
		t.Error("CompressionFromName accepted unknown name")
	}
}

func TestRefValidate(t *testing.T) {
	valid := []string{
		"file:///releases/app-1.2.3.tar.zst",
		"https://releases.example.com/app.tar.zst",
		"s3://fleet-releases/app.tar.zst",
	}
	for _, u := range valid {
		if err := (Ref{URL: u}).Validate(); err != nil {
			t.Errorf("Validate(%q): %v", u, err)
		}
	}
	if err := (Ref{URL: "ftp://host/app.tar"}).Validate(); err == nil {
		t.Error("Validate accepted ftp scheme")
	}
}

func TestFetchFile(t *testing.T) {
	archive := zstdCompress(t, buildTar(t, map[string]string{"bin/start": "#!/bin/sh\n"}))
	dir := t.TempDir()
	source := filepath.Join(dir, "app.tar.zst")
	if err := os.WriteFile(source, archive, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fetcher := &Fetcher{WorkDir: dir}
	artifact, err := fetcher.Fetch(context.Background(), Ref{
		URL:    "file://" + source,
		Digest: digestOf(archive),
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if artifact.Size != int64(len(archive)) {
		t.Errorf("Size = %d, want %d", artifact.Size, len(archive))
	}
	if artifact.Compression != CompressionZstd {
		t.Errorf("Compression = %s, want zstd", artifact.Compression)
	}
	if artifact.Digest != digestOf(archive) {
		t.Errorf("Digest = %s", artifact.Digest)
	}

	stored, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(stored, archive) {
		t.Error("stored artifact differs from source")
	}
}

func TestFetchFileDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "app.tar")
	if err := os.WriteFile(source, buildTar(t, map[string]string{"a": "x"}), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fetcher := &Fetcher{WorkDir: dir}
	_, err := fetcher.Fetch(context.Background(), Ref{
		URL:    "file://" + source,
		Digest: "deadbeef",
	})
	if err == nil {
		t.Fatal("Fetch accepted wrong digest")
	}
}

func TestFetchHTTPS(t *testing.T) {
	archive := lz4Compress(t, buildTar(t, map[string]string{"bin/start": "#!/bin/sh\n"}))

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	fetcher := &Fetcher{WorkDir: t.TempDir(), HTTPClient: server.Client()}
	artifact, err := fetcher.Fetch(context.Background(), Ref{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if artifact.Compression != CompressionLZ4 {
		t.Errorf("Compression = %s, want lz4", artifact.Compression)
	}
	if artifact.Digest != digestOf(archive) {
		t.Errorf("Digest mismatch")
	}
}

func TestFetchHTTPSNotFound(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := &Fetcher{WorkDir: t.TempDir(), HTTPClient: server.Client()}
	if _, err := fetcher.Fetch(context.Background(), Ref{URL: server.URL}); err == nil {
		t.Fatal("Fetch accepted a 404")
	}
}

func TestExtractRoundtrip(t *testing.T) {
	files := map[string]string{
		"bin/start":        "#!/bin/sh\nexec ./app\n",
		"lib/app/app.conf": "workers = 4\n",
	}
	archive := zstdCompress(t, buildTar(t, files))

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "release.tar.zst")
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	destDir := filepath.Join(dir, "current")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := Extract(archivePath, CompressionZstd, destDir); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(destDir, name))
		if err != nil {
			t.Fatalf("reading extracted %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "../escape", Mode: 0o644, Size: 1}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	tw.Write([]byte("x"))
	tw.Close()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar")
	if err := os.WriteFile(archivePath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := Extract(archivePath, CompressionNone, filepath.Join(dir, "out")); err == nil {
		t.Fatal("Extract accepted a path-traversal entry")
	}
}
