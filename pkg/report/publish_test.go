package report

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	failKey string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]string{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	if key == f.failKey {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3Target(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		prefix string
	}{
		{"reports", "reports", ""},
		{"reports/nightly/run-1", "reports", "nightly/run-1"},
		{"s3://reports/nightly/", "reports", "nightly"},
	}
	for _, tt := range tests {
		got, err := ParseS3Target(tt.in)
		if err != nil {
			t.Fatalf("ParseS3Target(%q): %v", tt.in, err)
		}
		if got.Bucket != tt.bucket || got.Prefix != tt.prefix {
			t.Errorf("ParseS3Target(%q) = %+v", tt.in, got)
		}
	}

	if _, err := ParseS3Target("s3://"); err == nil {
		t.Error("expected error for missing bucket")
	}
	if s := (S3Target{Bucket: "b", Prefix: "p"}).String(); s != "s3://b/p" {
		t.Errorf("String() = %q", s)
	}
}

func TestPublish(t *testing.T) {
	tmpDir := writeTestReport(t)
	client := newFakeS3()

	n, err := Publish(context.Background(), client, tmpDir, S3Target{Bucket: "reports", Prefix: "ci/42"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != len(client.objects) {
		t.Errorf("uploaded = %d, objects = %d", n, len(client.objects))
	}

	keys := make([]string, 0, len(client.objects))
	for k := range client.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	want := []string{
		"reports/ci/42/assets/flow-001/cmd-000-failure.png",
		"reports/ci/42/flows/flow-000.json",
		"reports/ci/42/flows/flow-001.json",
		"reports/ci/42/report.json",
	}
	for _, w := range want {
		if _, ok := client.objects[w]; !ok {
			t.Errorf("missing object %s (have %v)", w, keys)
		}
	}
	if ct := client.types["reports/ci/42/report.json"]; ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestPublish_Error(t *testing.T) {
	tmpDir := writeTestReport(t)
	client := newFakeS3()
	client.failKey = "reports/report.json"

	if _, err := Publish(context.Background(), client, tmpDir, S3Target{Bucket: "reports"}); err == nil {
		t.Error("expected upload error")
	}
}
