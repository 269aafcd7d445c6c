package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/wallet-key-backup/interfaces"
)

// S3Driver implements a cloud driver using Amazon S3 or compatible services.
// Backup files are private objects under an optional key prefix.
type S3Driver struct {
	client      s3iface.S3API
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Driver creates a new S3 driver. Without static credentials the default
// AWS credential chain is used.
func NewS3Driver(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Driver, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create AWS session: %v", interfaces.ErrConfiguration, err)
	}

	return NewS3DriverWithClient(s3.New(sess), bucketName, prefix, uri, log), nil
}

// NewS3DriverWithClient creates an S3 driver over an existing client.
func NewS3DriverWithClient(client s3iface.S3API, bucketName, prefix, locationURI string, log *slog.Logger) *S3Driver {
	return &S3Driver{
		client:      client,
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: locationURI,
	}
}

// Locate checks for the object with a HEAD request.
func (d *S3Driver) Locate(ctx context.Context, name string) (interfaces.FileHandle, bool, error) {
	key := d.objectKey(name)

	out, err := d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucketName),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return interfaces.FileHandle{}, false, nil
	}
	if err != nil {
		return interfaces.FileHandle{}, false, fmt.Errorf("%w: failed to head object: %v", interfaces.ErrIO, err)
	}

	handle := interfaces.FileHandle{ID: key, Name: name}
	if out.LastModified != nil {
		handle.ModifiedAt = *out.LastModified
	}
	if out.ETag != nil {
		handle.Revision = *out.ETag
	}
	return handle, true, nil
}

// Create stores an empty object.
func (d *S3Driver) Create(ctx context.Context, name string) (interfaces.FileHandle, error) {
	key := d.objectKey(name)
	if err := d.put(ctx, key, nil); err != nil {
		return interfaces.FileHandle{}, err
	}
	return interfaces.FileHandle{ID: key, Name: name}, nil
}

// Read downloads the whole object.
func (d *S3Driver) Read(ctx context.Context, handle interfaces.FileHandle) ([]byte, error) {
	start := time.Now()

	result, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucketName),
		Key:    aws.String(handle.ID),
	})
	if isS3NotFound(err) {
		d.log.Debug("Object not found in S3",
			slog.String("bucket", d.bucketName),
			slog.String("key", handle.ID))
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		d.log.Error("Failed to get object from S3",
			slog.String("bucket", d.bucketName),
			slog.String("key", handle.ID),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to get object from S3: %v", interfaces.ErrIO, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read object body: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Fetched object from S3",
		slog.String("bucket", d.bucketName),
		slog.String("key", handle.ID),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Write overwrites the whole object.
func (d *S3Driver) Write(ctx context.Context, handle interfaces.FileHandle, data []byte) error {
	return d.put(ctx, handle.ID, data)
}

// List returns every object under the prefix.
func (d *S3Driver) List(ctx context.Context) ([]interfaces.FileHandle, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucketName),
	}
	if d.prefix != "" {
		input.Prefix = aws.String(d.prefix + "/")
	}

	var handles []interfaces.FileHandle
	err := d.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			handle := interfaces.FileHandle{
				ID:       key,
				Name:     path.Base(key),
				Revision: aws.StringValue(obj.ETag),
			}
			if obj.LastModified != nil {
				handle.ModifiedAt = *obj.LastModified
			}
			handles = append(handles, handle)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list objects: %v", interfaces.ErrIO, err)
	}

	return handles, nil
}

// Name returns a unique identifier for this driver.
func (d *S3Driver) Name() string {
	return fmt.Sprintf("s3-%s", d.bucketName)
}

// LocationURI returns the URI that identifies this driver.
func (d *S3Driver) LocationURI() string {
	return d.locationURI
}

func (d *S3Driver) put(ctx context.Context, key string, data []byte) error {
	_, err := d.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		ACL:         aws.String(s3.ObjectCannedACLPrivate),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload object to S3: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Stored object in S3",
		slog.String("bucket", d.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)))

	return nil
}

func (d *S3Driver) objectKey(name string) string {
	if d.prefix == "" {
		return name
	}
	return path.Join(d.prefix, name)
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
