package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"docchat-backend/internal/shared/storage/object"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "user/doc-1", want: "user/doc-1"},
		{name: "simple prefix", prefix: "root", key: "user/doc-1", want: "root/user/doc-1"},
		{name: "prefix trailing slash", prefix: "root/", key: "user/doc-1", want: "root/user/doc-1"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/user/doc-1", want: "root/user/doc-1"},
		{name: "nested prefix", prefix: "root/sub", key: "user/doc-1", want: "root/sub/user/doc-1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	putInput  *s3.PutObjectInput
	putBody   string
	getErr    error
	deleteKey string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = in
	data, _ := io.ReadAll(in.Body)
	f.putBody = string(data)
	return &s3.PutObjectOutput{VersionId: aws.String("v-1")}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.putBody))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleteKey = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestPutReturnsVersion(t *testing.T) {
	fake := &fakeS3{}
	store := NewWithClient(fake, "bucket", "docs", "")

	res, err := store.Put(context.Background(), "user/doc-1", "", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.VersionID != "v-1" || res.Size != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if aws.ToString(fake.putInput.Key) != "docs/user/doc-1" {
		t.Fatalf("unexpected key %q", aws.ToString(fake.putInput.Key))
	}
	if fake.putInput.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 encryption")
	}
	if fake.putBody != "hello" {
		t.Fatalf("unexpected body %q", fake.putBody)
	}
}

func TestGetMapsNoSuchKey(t *testing.T) {
	fake := &fakeS3{getErr: &s3types.NoSuchKey{}}
	store := NewWithClient(fake, "bucket", "", "")

	if _, err := store.Get(context.Background(), "user/doc-1"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUsesPrefixedKey(t *testing.T) {
	fake := &fakeS3{}
	store := NewWithClient(fake, "bucket", "/docs/", "")
	if err := store.Delete(context.Background(), "user/doc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fake.deleteKey != "docs/user/doc-1" {
		t.Fatalf("unexpected delete key %q", fake.deleteKey)
	}
}
