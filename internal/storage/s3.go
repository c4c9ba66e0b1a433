// Package storage hands finished artifacts to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/ivlev/reelforge/internal/config"
	"github.com/ivlev/reelforge/internal/errs"
)

// Uploader stores a local file under name and returns a retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, path, name string) (string, error)
}

type S3Uploader struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	prefix        string
	publicRead    bool
	expiry        time.Duration
	logger        zerolog.Logger
}

// NewS3Uploader builds a client for cfg. Static keys are used when present,
// otherwise the standard AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errs.Configf("storage.bucket", "not set (BUCKET_NAME)")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, errs.Configf("storage", "ACCESS_KEY and SECRET_KEY must be set together")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &S3Uploader{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		prefix:        prefix,
		publicRead:    cfg.PublicRead,
		expiry:        expiry,
		logger:        logger,
	}, nil
}

// Key is the object key name is stored under.
func (u *S3Uploader) Key(name string) string {
	return u.prefix + name
}

// Upload puts the file at path under prefix+name and returns a presigned GET URL.
func (u *S3Uploader) Upload(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := u.Key(name)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(ContentType(name)),
	}
	if u.publicRead {
		in.ACL = s3types.ObjectCannedACLPublicRead
	}

	start := time.Now()
	if _, err := u.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to upload object to S3: %w", err)
	}

	req, err := u.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = u.expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	u.logger.Info().
		Str("bucket", u.bucket).
		Str("key", key).
		Int64("bytes", st.Size()).
		Dur("took", time.Since(start)).
		Msg("artifact uploaded")
	return req.URL, nil
}

// ContentType guesses the object content type from the name, defaulting to video/mp4.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "video/mp4"
}
