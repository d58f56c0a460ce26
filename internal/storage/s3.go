// Package storage publishes rendered card images to an S3-compatible CDN
// origin. The Graph API fetches images by public HTTPS URL, so every object
// lands under a stable public prefix.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultSubdir is the CDN prefix for published card images
const DefaultSubdir = "social_media"

// ErrCDNUnavailable wraps upload failures so callers can treat them as
// transient
var ErrCDNUnavailable = errors.New("cdn unavailable")

// CDNConfig holds S3/MinIO configuration for the CDN origin bucket
type CDNConfig struct {
	Endpoint        string // e.g. "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string // public base URL the Graph API fetches from
}

// CDN uploads rendered images to the origin bucket
type CDN struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewCDN creates a new CDN storage client. A public base URL is required;
// without one the Graph API could never fetch the uploaded images.
func NewCDN(cfg CDNConfig) (*CDN, error) {
	if strings.TrimRight(cfg.PublicURL, "/") == "" {
		return nil, errors.New("cdn public url not configured")
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &CDN{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Publish uploads an image under subdir/name and returns its public URL.
// Names are derived from the post public id, so a re-render of the same post
// overwrites the previous object and keeps the URL stable.
func (c *CDN) Publish(ctx context.Context, data []byte, subdir, name string) (string, error) {
	if subdir == "" {
		subdir = DefaultSubdir
	}
	key := path.Join(subdir, name)

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentTypeFor(name)),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("%w: uploading %s: %v", ErrCDNUnavailable, key, err)
	}

	return fmt.Sprintf("%s/%s", c.publicURL, key), nil
}

// Delete removes an image from the origin bucket
func (c *CDN) Delete(ctx context.Context, subdir, name string) error {
	if subdir == "" {
		subdir = DefaultSubdir
	}
	key := path.Join(subdir, name)

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
