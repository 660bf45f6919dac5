package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var _ audit.ArtifactStore = (*S3ArtifactStore)(nil)

// fakeS3 emulates conditional puts and paginated listing.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	pageLen int
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	start := 0
	if in.ContinuationToken != nil {
		start = slices.Index(keys, aws.ToString(in.ContinuationToken))
	}
	end := min(start+f.pageLen, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestS3ArtifactStore(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, pageLen: 2}
	s := NewS3ArtifactStore(fake, "audit", "/whygraph/")
	ctx := t.Context()

	key := audit.Key("req_s3", audit.ArtifactResponse)
	if err := s.Put(ctx, key, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if _, ok := fake.objects["whygraph/req_s3/response.json"]; !ok {
		t.Fatal("expected object under the configured prefix")
	}
	if err := s.Put(ctx, key, []byte(`{}`)); !errors.Is(err, audit.ErrArtifactExists) {
		t.Fatalf("expected ErrArtifactExists, got %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil || string(got) != `{"ok":true}` {
		t.Fatalf("Get = %s, %v", got, err)
	}
	if _, err := s.Get(ctx, audit.Key("req_s3", audit.ArtifactError)); !errors.Is(err, audit.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestS3ArtifactStoreKeys(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, pageLen: 2}
	s := NewS3ArtifactStore(fake, "audit", "")
	ctx := t.Context()

	for _, a := range []audit.Artifact{audit.ArtifactEnvelope, audit.ArtifactResponse, audit.ArtifactValidation} {
		if err := s.Put(ctx, audit.Key("req_a", a), []byte("{}")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}
	if err := s.Put(ctx, audit.Key("req_b", audit.ArtifactResponse), []byte("{}")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	keys, err := s.Keys(ctx, "req_a")
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	want := []string{"req_a/envelope.json", "req_a/response.json", "req_a/validation.json"}
	if !slices.Equal(keys, want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
}
