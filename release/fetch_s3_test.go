// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	data   []byte
	bucket string
	key    string
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = *params.Bucket
	f.key = *params.Key
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.data))}, nil
}

func TestFetchS3(t *testing.T) {
	archive := zstdCompress(t, buildTar(t, map[string]string{"bin/start": "#!/bin/sh\n"}))
	fake := &fakeS3{data: archive}

	fetcher := &Fetcher{WorkDir: t.TempDir(), S3: fake}
	artifact, err := fetcher.Fetch(context.Background(), Ref{
		URL: "s3://fleet-releases/app/app-2.1.0.tar.zst",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if fake.bucket != "fleet-releases" {
		t.Errorf("bucket = %q", fake.bucket)
	}
	if fake.key != "app/app-2.1.0.tar.zst" {
		t.Errorf("key = %q", fake.key)
	}
	if artifact.Digest != digestOf(archive) {
		t.Error("digest mismatch")
	}
	if artifact.Compression != CompressionZstd {
		t.Errorf("Compression = %s", artifact.Compression)
	}
}

func TestFetchS3BadURL(t *testing.T) {
	fetcher := &Fetcher{WorkDir: t.TempDir(), S3: &fakeS3{}}
	if _, err := fetcher.Fetch(context.Background(), Ref{URL: "s3://bucketonly"}); err == nil {
		t.Fatal("Fetch accepted s3 URL without key")
	}
}
