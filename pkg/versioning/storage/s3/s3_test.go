package s3_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
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
	"github.com/tendant/simple-versioning/pkg/versioning"
	s3storage "github.com/tendant/simple-versioning/pkg/versioning/storage/s3"
)

// fakeClient is an in-process stand-in for the S3 API covering the calls the
// backend makes. Listing returns pageSize keys per page.
type fakeClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	ctypes   map[string]string
	pageSize int

	// denied keys are reported as per-key AccessDenied errors by DeleteObjects
	denied map[string]bool
	// listErr / deleteErr fail the whole request
	listErr   error
	deleteErr error

	deleteCalls []int // keys per DeleteObjects call
	listCalls   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects:  make(map[string][]byte),
		ctypes:   make(map[string]string),
		pageSize: 1000,
		denied:   make(map[string]bool),
	}
}

func (f *fakeClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	f.objects[key] = data
	f.ctypes[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	prefix := aws.ToString(params.Prefix)
	after := aws.ToString(params.ContinuationToken)

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeClient) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, len(params.Delete.Objects))
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}

	out := &s3.DeleteObjectsOutput{}
	for _, obj := range params.Delete.Objects {
		key := aws.ToString(obj.Key)
		if f.denied[key] {
			out.Errors = append(out.Errors, types.Error{
				Key:     aws.String(key),
				Code:    aws.String("AccessDenied"),
				Message: aws.String("Access Denied"),
			})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeClient) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newBackend(t *testing.T, client *fakeClient) *s3storage.Backend {
	t.Helper()
	backend, err := s3storage.NewWithClient(client, s3storage.Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return backend
}

func seed(client *fakeClient, keys ...string) {
	for _, k := range keys {
		client.objects[k] = []byte(k)
	}
}

func TestNewWithClientValidation(t *testing.T) {
	_, err := s3storage.NewWithClient(nil, s3storage.Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = s3storage.NewWithClient(newFakeClient(), s3storage.Config{})
	assert.Error(t, err)
}

func TestUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	backend := newBackend(t, client)

	require.NoError(t, backend.Upload(ctx, "doc-1/v1", []byte("hello"), "text/plain"))
	assert.Equal(t, "text/plain", client.ctypes["doc-1/v1"])

	rc, err := backend.Download(ctx, "doc-1/v1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = backend.Download(ctx, "doc-1/v9")
	assert.ErrorIs(t, err, versioning.ErrObjectNotFound)
}

func TestDeleteOnlyRemovesKeysUnderPrefix(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	seed(client, "doc-1/v1", "doc-1/v2", "doc-10/v1", "doc-2/v1")
	backend := newBackend(t, client)

	require.NoError(t, backend.Delete(ctx, "doc-1"))
	assert.Equal(t, []string{"doc-10/v1", "doc-2/v1"}, client.keys())
}

func TestDeleteEmptyPrefixRejected(t *testing.T) {
	client := newFakeClient()
	seed(client, "doc-1/v1")
	backend := newBackend(t, client)

	assert.Error(t, backend.Delete(context.Background(), ""))
	assert.Error(t, backend.Delete(context.Background(), "/"))
	assert.Len(t, client.keys(), 1)
}

func TestDeleteNothingToDelete(t *testing.T) {
	client := newFakeClient()
	backend := newBackend(t, client)

	require.NoError(t, backend.Delete(context.Background(), "doc-1"))
	assert.Empty(t, client.deleteCalls)
}

func TestDeletePaginatesAndBatches(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.pageSize = 700

	for i := 1; i <= 2500; i++ {
		client.objects[fmt.Sprintf("doc-1/v%d", i)] = nil
	}
	seed(client, "doc-2/v1")
	backend := newBackend(t, client)

	require.NoError(t, backend.Delete(ctx, "doc-1"))

	assert.Equal(t, []string{"doc-2/v1"}, client.keys())
	assert.Equal(t, 4, client.listCalls)
	assert.Equal(t, []int{1000, 1000, 500}, client.deleteCalls)
}

func TestDeleteCustomBatchSize(t *testing.T) {
	client := newFakeClient()
	for i := 1; i <= 5; i++ {
		client.objects[fmt.Sprintf("doc-1/v%d", i)] = nil
	}
	backend, err := s3storage.NewWithClient(client, s3storage.Config{Bucket: "b", DeleteBatchSize: 2})
	require.NoError(t, err)

	require.NoError(t, backend.Delete(context.Background(), "doc-1"))
	assert.Equal(t, []int{2, 2, 1}, client.deleteCalls)
}

func TestDeletePerKeyFailuresReported(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	seed(client, "doc-1/v1", "doc-1/v2", "doc-1/v3")
	client.denied["doc-1/v2"] = true
	backend := newBackend(t, client)

	err := backend.Delete(ctx, "doc-1")
	require.Error(t, err)

	var batchErr *versioning.PartialBatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 2, batchErr.Deleted)
	assert.Equal(t, []string{"doc-1/v2"}, batchErr.FailedKeys())

	var permErr *versioning.PermissionError
	assert.True(t, errors.As(err, &permErr), "AccessDenied is surfaced as a permission error")

	assert.Equal(t, []string{"doc-1/v2"}, client.keys())
}

func TestDeleteAccessDeniedOnList(t *testing.T) {
	client := newFakeClient()
	seed(client, "doc-1/v1")
	client.listErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
	backend := newBackend(t, client)

	err := backend.Delete(context.Background(), "doc-1")

	var permErr *versioning.PermissionError
	require.True(t, errors.As(err, &permErr))
	assert.Equal(t, "list", permErr.Op)
	assert.Equal(t, "s3", permErr.Backend)
}

func TestDeleteRequestFailure(t *testing.T) {
	client := newFakeClient()
	seed(client, "doc-1/v1")
	client.deleteErr = errors.New("connection reset")
	backend := newBackend(t, client)

	err := backend.Delete(context.Background(), "doc-1")

	var storageErr *versioning.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "delete", storageErr.Op)

	var batchErr *versioning.PartialBatchError
	assert.False(t, errors.As(err, &batchErr), "nothing was deleted, so this is not a partial batch")
}

func TestDeleteRequestFailureAfterProgress(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	for i := 1; i <= 3; i++ {
		client.objects[fmt.Sprintf("doc-1/v%d", i)] = nil
	}

	// first batch succeeds, then the service starts failing
	failing := &failAfter{fakeClient: client, remaining: 1}
	backend, err := s3storage.NewWithClient(failing, s3storage.Config{Bucket: "b", DeleteBatchSize: 2})
	require.NoError(t, err)

	err = backend.Delete(ctx, "doc-1")

	var batchErr *versioning.PartialBatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 2, batchErr.Deleted)
	assert.Equal(t, []string{"doc-1/v3"}, batchErr.FailedKeys())
}

func TestDeleteRequestFailureKeepsEarlierKeyFailures(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	seed(client, "doc-1/v1", "doc-1/v2", "doc-1/v3")
	client.denied["doc-1/v1"] = true
	client.denied["doc-1/v2"] = true

	failing := &failAfter{fakeClient: client, remaining: 1}
	backend, err := s3storage.NewWithClient(failing, s3storage.Config{Bucket: "b", DeleteBatchSize: 2})
	require.NoError(t, err)

	err = backend.Delete(ctx, "doc-1")

	var batchErr *versioning.PartialBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Zero(t, batchErr.Deleted)
	assert.Equal(t, []string{"doc-1/v1", "doc-1/v2", "doc-1/v3"}, batchErr.FailedKeys())
	require.Error(t, batchErr.Err)
	assert.Contains(t, err.Error(), "stopped early")

	var permErr *versioning.PermissionError
	assert.ErrorAs(t, err, &permErr)
	var storageErr *versioning.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestDeleteListFailureKeepsEarlierKeyFailures(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.pageSize = 2
	seed(client, "doc-1/v1", "doc-1/v2", "doc-1/v3")
	client.denied["doc-1/v1"] = true
	client.denied["doc-1/v2"] = true

	failing := &failListAfter{fakeClient: client, remaining: 1}
	backend, err := s3storage.NewWithClient(failing, s3storage.Config{Bucket: "b", DeleteBatchSize: 2})
	require.NoError(t, err)

	err = backend.Delete(ctx, "doc-1")

	var batchErr *versioning.PartialBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []string{"doc-1/v1", "doc-1/v2"}, batchErr.FailedKeys())

	var storageErr *versioning.StorageError
	require.ErrorAs(t, batchErr.Err, &storageErr)
	assert.Equal(t, "list", storageErr.Op)
}

// failListAfter lets the first remaining ListObjectsV2 calls through and fails the rest.
type failListAfter struct {
	*fakeClient
	remaining int
}

func (f *failListAfter) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.remaining == 0 {
		return nil, errors.New("service unavailable")
	}
	f.remaining--
	return f.fakeClient.ListObjectsV2(ctx, params, optFns...)
}

// failAfter lets the first remaining DeleteObjects calls through and fails the rest.
type failAfter struct {
	*fakeClient
	remaining int
}

func (f *failAfter) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.remaining == 0 {
		return nil, errors.New("service unavailable")
	}
	f.remaining--
	return f.fakeClient.DeleteObjects(ctx, params, optFns...)
}
