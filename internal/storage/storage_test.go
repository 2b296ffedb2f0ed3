package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regaudit/internal/config"
)

func TestLocal_PutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir()+"/reports", nil)

	loc, err := l.Put(ctx, "compliance_report_20260101_000000.md", []byte("first"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc, "compliance_report_20260101_000000.md"))

	_, err = l.Put(ctx, "compliance_report_20260101_000000.md", []byte("second"))
	assert.ErrorIs(t, err, ErrExists)

	name, data, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "compliance_report_20260101_000000.md", name)
	assert.Equal(t, "first", string(data))
}

func TestLocal_Latest(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir(), nil)

	_, _, err := l.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, n := range []string{"compliance_report_20260102_000000.md", "compliance_report_20260301_120000.md", "compliance_report_20251231_235959.md"} {
		_, err := l.Put(ctx, n, []byte(n))
		require.NoError(t, err)
	}
	name, data, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "compliance_report_20260301_120000.md", name)
	assert.Equal(t, name, string(data))
}

func TestLocal_MissingDirectory(t *testing.T) {
	_, _, err := NewLocal(t.TempDir()+"/none", nil).Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

// fakeS3 is an in-memory bucket that honours If-None-Match and pages its
// listings two keys at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.StartAfter) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > 2 {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
		keys = keys[:2]
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3_PutAndLatest(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{"other/compliance_report_20990101_000000.md": []byte("elsewhere")}}
	s := newS3(fake, "audit-bucket", "reports", nil)

	for _, n := range []string{"compliance_report_20260102_000000.md", "compliance_report_20260301_120000.md", "compliance_report_20251231_235959.md"} {
		_, err := s.Put(ctx, n, []byte(n))
		require.NoError(t, err)
	}
	require.NotEmpty(t, fake.puts)
	assert.Equal(t, "*", aws.ToString(fake.puts[0].IfNoneMatch))
	assert.Equal(t, "reports/compliance_report_20260102_000000.md", aws.ToString(fake.puts[0].Key))
	assert.Equal(t, "text/markdown; charset=utf-8", aws.ToString(fake.puts[0].ContentType))

	name, data, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "compliance_report_20260301_120000.md", name)
	assert.Equal(t, name, string(data))
}

func TestS3_PutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newS3(&fakeS3{objects: map[string][]byte{}}, "audit-bucket", "reports", nil)

	loc, err := s.Put(ctx, "r.md", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "s3://audit-bucket/reports/r.md", loc)

	_, err = s.Put(ctx, "r.md", []byte("b"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestS3_LatestEmpty(t *testing.T) {
	s := newS3(&fakeS3{objects: map[string][]byte{}}, "audit-bucket", "reports", nil)
	_, _, err := s.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_SelectsBackend(t *testing.T) {
	st, err := New(context.Background(), config.ReportsConfig{Storage: "local", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, st)

	_, err = New(context.Background(), config.ReportsConfig{Storage: "ftp"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), config.ReportsConfig{Storage: "s3"}, nil)
	assert.Error(t, err, "bucket required")
}
