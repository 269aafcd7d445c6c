package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memS3 implements the subset of s3iface.S3API used by the driver over a map.
type memS3 struct {
	s3iface.S3API
	objects map[string][]byte
	failAll error
}

func (m *memS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	if m.failAll != nil {
		return nil, m.failAll
	}
	if _, ok := m.objects[aws.StringValue(in.Key)]; !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req")
	}
	return &s3.HeadObjectOutput{ETag: aws.String("etag")}, nil
}

func (m *memS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if m.failAll != nil {
		return nil, m.failAll
	}
	data, ok := m.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if m.failAll != nil {
		return nil, m.failAll
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	if m.failAll != nil {
		return m.failAll
	}
	page := &s3.ListObjectsV2Output{}
	for key := range m.objects {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(key)})
	}
	fn(page, true)
	return nil
}

func TestS3Driver_Lifecycle(t *testing.T) {
	ctx := context.Background()
	client := &memS3{objects: map[string][]byte{}}
	d := NewS3DriverWithClient(client, "bucket", "/wallets/", "s3://bucket/wallets", testLogger())

	_, found, err := d.Locate(ctx, "backup.json")
	require.NoError(t, err)
	assert.False(t, found)

	handle, err := d.Create(ctx, "backup.json")
	require.NoError(t, err)
	assert.Equal(t, "wallets/backup.json", handle.ID)

	require.NoError(t, d.Write(ctx, handle, []byte("content")))

	located, found, err := d.Locate(ctx, "backup.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "etag", located.Revision)

	data, err := d.Read(ctx, located)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	handles, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "backup.json", handles[0].Name)

	_, err = d.Read(ctx, interfaces.FileHandle{ID: "wallets/missing.json"})
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestS3Driver_TransportErrors(t *testing.T) {
	ctx := context.Background()
	client := &memS3{objects: map[string][]byte{}, failAll: awserr.New("RequestError", "send request failed", nil)}
	d := NewS3DriverWithClient(client, "bucket", "", "s3://bucket", testLogger())

	_, _, err := d.Locate(ctx, "backup.json")
	require.ErrorIs(t, err, interfaces.ErrIO)

	err = d.Write(ctx, interfaces.FileHandle{ID: "backup.json"}, []byte("x"))
	require.ErrorIs(t, err, interfaces.ErrIO)

	_, err = d.List(ctx)
	require.ErrorIs(t, err, interfaces.ErrIO)
}
