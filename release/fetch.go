// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zeebo/blake3"
)

// S3API is the subset of the S3 client the fetcher uses. Tests inject
// a fake; production lazily constructs a real client from the ambient
// AWS configuration.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher downloads release artifacts into a local working directory,
// hashing as it copies and verifying against the ref's expected digest.
type Fetcher struct {
	// WorkDir receives fetched artifacts. Empty means the system
	// temp directory.
	WorkDir string

	// HTTPClient serves https:// refs. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// S3 serves s3:// refs. Nil means a client built from ambient
	// AWS configuration on first use.
	S3 S3API
}

// Fetch downloads the artifact the ref points at, verifies its digest,
// and classifies its compression. The artifact file lands in WorkDir
// and belongs to the caller.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref) (*Artifact, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("release URL %q: %w", ref.URL, err)
	}

	var source io.ReadCloser
	switch parsed.Scheme {
	case "file":
		source, err = f.openFile(parsed)
	case "https":
		source, err = f.openHTTPS(ctx, ref.URL)
	case "s3":
		source, err = f.openS3(ctx, parsed)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref.URL, err)
	}
	defer source.Close()

	return f.store(source, ref)
}

// store copies the source stream to a file in WorkDir, computing the
// BLAKE3 digest and sniffing the compression on the way through.
func (f *Fetcher) store(source io.Reader, ref Ref) (*Artifact, error) {
	destination, err := os.CreateTemp(f.WorkDir, "release-*.artifact")
	if err != nil {
		return nil, fmt.Errorf("creating artifact file: %w", err)
	}

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(destination, hasher), source)
	closeErr := destination.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destination.Name())
		return nil, fmt.Errorf("storing artifact: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if ref.Digest != "" && !strings.EqualFold(ref.Digest, digest) {
		os.Remove(destination.Name())
		return nil, fmt.Errorf("artifact digest mismatch: got %s, want %s", digest, ref.Digest)
	}

	header := make([]byte, 4)
	file, err := os.Open(destination.Name())
	if err != nil {
		os.Remove(destination.Name())
		return nil, fmt.Errorf("reopening artifact: %w", err)
	}
	n, _ := io.ReadFull(file, header)
	file.Close()

	return &Artifact{
		Path:        destination.Name(),
		Size:        size,
		Digest:      digest,
		Compression: DetectCompression(header[:n]),
	}, nil
}

func (f *Fetcher) openFile(parsed *url.URL) (io.ReadCloser, error) {
	// Both file:///abs/path and file://host/path forms appear in the
	// wild; the host part is meaningless here and ignored.
	path := parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	return os.Open(filepath.FromSlash(path))
}

func (f *Fetcher) openHTTPS(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fmt.Errorf("HTTP %s", response.Status)
	}
	return response.Body, nil
}

func (f *Fetcher) openS3(ctx context.Context, parsed *url.URL) (io.ReadCloser, error) {
	client := f.S3
	if client == nil {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
		client = s3.NewFromConfig(cfg)
		f.S3 = client
	}

	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 URL must be s3://bucket/key")
	}

	output, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}
	return output.Body, nil
}
