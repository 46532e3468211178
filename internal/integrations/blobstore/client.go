package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound reports a missing bucket or object.
	ErrNotFound = errors.New("blobstore: object not found")
	// ErrUnauthorized reports that the store rejected the configured credentials.
	ErrUnauthorized = errors.New("blobstore: access denied")
)

var unauthorizedCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
	"Forbidden":             true,
}

// s3API is the minimal S3 interface required by Client.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Location addresses one object: Bucket is the container, Key the object name.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// Client reads whole objects from S3 or an S3-compatible store.
type Client struct {
	api s3API
}

// New creates a Client with the given S3 API implementation.
func New(api s3API) (*Client, error) {
	if api == nil {
		return nil, errors.New("blobstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// Fetch downloads the full object at loc and returns it as text. Every call
// goes to the store; nothing is cached.
func (c *Client) Fetch(ctx context.Context, loc Location) (string, error) {
	if c.api == nil {
		return "", errors.New("blobstore: client not initialized")
	}
	bucket := strings.TrimSpace(loc.Bucket)
	key := strings.TrimSpace(loc.Key)
	if bucket == "" || key == "" {
		return "", errors.New("blobstore: bucket and key are required")
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: get object %s: %w", loc, classify(err))
	}
	if out == nil || out.Body == nil {
		return "", fmt.Errorf("blobstore: get object %s: empty body", loc)
	}
	defer func() { _ = out.Body.Close() }()

	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("blobstore: read object %s: %w", loc, err)
	}
	return strings.TrimPrefix(string(buf), "\ufeff"), nil
}

// classify joins a sentinel onto recognised S3 failures so callers can use
// errors.Is without depending on the SDK.
func classify(err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return errors.Join(ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.ErrorCode() == "NotFound":
			return errors.Join(ErrNotFound, err)
		case unauthorizedCodes[apiErr.ErrorCode()]:
			return errors.Join(ErrUnauthorized, err)
		}
	}
	return err
}
