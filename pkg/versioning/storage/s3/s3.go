package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/tendant/simple-versioning/pkg/versioning"
)

const backendName = "s3"

// MaxDeleteBatch is the largest number of keys S3 accepts in one DeleteObjects call.
const MaxDeleteBatch = 1000

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// DeleteBatchSize bounds keys per DeleteObjects call (default and max: 1000)
	DeleteBatchSize int

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Client is the subset of the S3 API used by Backend. *s3.Client satisfies it.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Backend is an S3-compatible implementation of the versioning.BlobStore interface
type Backend struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	config   Config
}

var (
	_ versioning.BlobStore  = (*Backend)(nil)
	_ versioning.BlobReader = (*Backend)(nil)
)

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		// Use provided credentials
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	if config.CreateBucketIfNotExist {
		if err := createBucketIfNotExists(ctx, client, config); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return NewWithClient(client, config)
}

// NewWithClient creates a backend around an already constructed client.
func NewWithClient(client Client, config Config) (*Backend, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.DeleteBatchSize <= 0 || config.DeleteBatchSize > MaxDeleteBatch {
		config.DeleteBatchSize = MaxDeleteBatch
	}

	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		config:   config,
	}, nil
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func createBucketIfNotExists(ctx context.Context, client *s3.Client, config Config) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(config.Bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket in several ways
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(config.Bucket),
	}
	if config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(config.Region),
		}
	}

	if _, err = client.CreateBucket(ctx, createInput); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload uploads content to S3, replacing any object at path
func (b *Backend) Upload(ctx context.Context, path string, content []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(content),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if b.config.EnableSSE {
		switch b.config.SSEAlgorithm {
		case "AES256":
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.config.SSEKMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
			}
		}
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return classify("upload", path, fmt.Errorf("failed to upload to S3: %w", err))
	}
	return nil
}

// Download downloads content directly from S3
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, versioning.ErrObjectNotFound
		}
		return nil, classify("download", path, fmt.Errorf("failed to download from S3: %w", err))
	}
	return result.Body, nil
}

// Delete removes every object whose key starts with prefix + "/".
//
// Listing is paginated and deletions are sent in batches of at most
// DeleteBatchSize keys. Keys the service refuses to delete are collected and
// returned in a *versioning.PartialBatchError once the whole prefix has been
// processed.
func (b *Backend) Delete(ctx context.Context, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return errors.New("prefix is required")
	}
	prefix += "/"

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	failed := make(map[string]error)
	deleted := 0
	batch := make([]types.ObjectIdentifier, 0, b.config.DeleteBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := b.deleteBatch(ctx, batch, failed)
		deleted += n
		batch = batch[:0]
		return err
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return b.abort(prefix, deleted, failed, classify("list", prefix, fmt.Errorf("failed to list objects: %w", err)))
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == b.config.DeleteBatchSize {
				if err := flush(); err != nil {
					return b.abort(prefix, deleted, failed, err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return b.abort(prefix, deleted, failed, err)
	}

	if len(failed) > 0 {
		return &versioning.PartialBatchError{Backend: backendName, Prefix: prefix, Deleted: deleted, Failed: failed}
	}
	return nil
}

// deleteBatch issues one DeleteObjects call, recording per-key failures in
// failed. It returns the number of keys removed, and an error only when the
// request as a whole failed.
func (b *Backend) deleteBatch(ctx context.Context, batch []types.ObjectIdentifier, failed map[string]error) (int, error) {
	objects := make([]types.ObjectIdentifier, len(batch))
	copy(objects, batch)

	result, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		cause := classify("delete", aws.ToString(objects[0].Key), fmt.Errorf("failed to delete objects: %w", err))
		for _, obj := range objects {
			failed[aws.ToString(obj.Key)] = cause
		}
		return 0, cause
	}

	for _, deleteErr := range result.Errors {
		if deleteErr.Key == nil {
			continue
		}
		key := aws.ToString(deleteErr.Key)
		code := aws.ToString(deleteErr.Code)
		cause := fmt.Errorf("%s: %s", code, aws.ToString(deleteErr.Message))
		if isPermissionCode(code) {
			failed[key] = &versioning.PermissionError{Backend: backendName, Key: key, Op: "delete", Err: cause}
		} else {
			failed[key] = &versioning.StorageError{Backend: backendName, Key: key, Op: "delete", Err: cause}
		}
	}
	return len(objects) - len(result.Errors), nil
}

// abort ends a bulk delete early. When nothing was deleted and the only
// failures are the keys of the aborting request, the cause is returned as is.
// Otherwise deletions and per-key failures from earlier batches are reported
// in a partial batch carrying the cause.
func (b *Backend) abort(prefix string, deleted int, failed map[string]error, cause error) error {
	earlier := 0
	for _, err := range failed {
		if err != cause {
			earlier++
		}
	}
	if deleted == 0 && earlier == 0 {
		return cause
	}
	return &versioning.PartialBatchError{Backend: backendName, Prefix: prefix, Deleted: deleted, Failed: failed, Err: cause}
}

// classify turns an SDK error into a PermissionError or StorageError.
func classify(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && isPermissionCode(apiErr.ErrorCode()) {
		return &versioning.PermissionError{Backend: backendName, Key: key, Op: op, Err: err}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusForbidden {
		return &versioning.PermissionError{Backend: backendName, Key: key, Op: op, Err: err}
	}
	return &versioning.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

func isPermissionCode(code string) bool {
	switch code {
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		return true
	}
	return false
}
