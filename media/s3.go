package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"Retoucher/core"
	"Retoucher/lib/sl"
)

type S3Options struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Prefix        string
	PublicBaseUrl string
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader stores user images in a bucket and returns a publicly
// reachable url for each.
type S3Uploader struct {
	uploader      objectUploader
	bucket        string
	prefix        string
	publicBaseUrl string
	log           *slog.Logger
	now           func() time.Time
}

func NewS3Uploader(ctx context.Context, opts S3Options, log *slog.Logger) (*S3Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(manager.NewUploader(client), opts, log), nil
}

func newS3Uploader(uploader objectUploader, opts S3Options, log *slog.Logger) *S3Uploader {
	return &S3Uploader{
		uploader:      uploader,
		bucket:        opts.Bucket,
		prefix:        strings.Trim(opts.Prefix, "/"),
		publicBaseUrl: strings.TrimSuffix(opts.PublicBaseUrl, "/"),
		log:           log.With(sl.Module("s3")),
		now:           time.Now,
	}
}

// Upload validates and stores the image. Invalid images are reported as
// validation errors before anything is sent.
func (u *S3Uploader) Upload(ctx context.Context, data []byte) (core.ImageRef, error) {
	contentType, ext, err := Validate(data)
	if err != nil {
		return "", err
	}

	key := u.objectKey(ext)
	result, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		return "", core.NewCollaboratorError("s3", fmt.Errorf("uploading %s: %w", key, err))
	}
	u.log.With(
		slog.String("key", key),
		slog.Int("size", len(data)),
	).Debug("image uploaded")

	if u.publicBaseUrl != "" {
		return core.ImageRef(u.publicBaseUrl + "/" + key), nil
	}
	if result.Location == "" {
		return "", core.CollaboratorFailure("s3", "no location for %s", key)
	}
	return core.ImageRef(result.Location), nil
}

func (u *S3Uploader) objectKey(ext string) string {
	name := fmt.Sprintf("%s_%s.%s", u.now().UTC().Format("20060102-150405"), uuid.NewString(), ext)
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}
