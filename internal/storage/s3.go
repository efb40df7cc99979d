package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"vodpipe/internal/logging"
)

// S3API is the subset of the S3 client the backend calls.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Options configures the S3 backend. Endpoint targets S3-compatible
// services and switches to path-style addressing.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
	Client   S3API
}

// S3Backend uploads artifact sets to a bucket.
type S3Backend struct {
	client S3API
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Backend loads AWS configuration from the environment unless a client
// is supplied.
func NewS3Backend(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Backend, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client := opts.Client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := strings.TrimSpace(opts.Endpoint)
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	}
	return &S3Backend{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: logging.NewComponentLogger(logger, "storage"),
	}, nil
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) slugPrefix(slug string) string {
	if b.prefix == "" {
		return slug + "/"
	}
	return path.Join(b.prefix, slug) + "/"
}

// Publish uploads every file under localDir. A failed upload removes the
// objects already written so no partial set remains in the bucket.
func (b *S3Backend) Publish(ctx context.Context, slug, localDir string) (Location, error) {
	if err := validSlug(slug); err != nil {
		return Location{}, err
	}
	prefix := b.slugPrefix(slug)
	var (
		files int
		size  int64
	)
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		n, err := b.putFile(ctx, prefix+filepath.ToSlash(rel), p)
		if err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		files++
		size += n
		return nil
	})
	if err != nil {
		if cleanupErr := b.deletePrefix(context.WithoutCancel(ctx), prefix); cleanupErr != nil {
			logging.WarnWithContext(b.logger, "partial s3 upload not removed", "cleanup_failed",
				logging.String("slug", slug),
				logging.String(logging.FieldErrorHint, "Remove the prefix manually"),
				logging.Error(cleanupErr),
			)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Location{}, ctxErr
		}
		return Location{}, storageError("publish", "upload artifacts to s3://"+b.bucket+"/"+prefix, err)
	}
	if err := os.RemoveAll(localDir); err != nil {
		logging.WarnWithContext(b.logger, "published artifacts left in staging", "cleanup_failed",
			logging.String("dir", localDir),
			logging.String(logging.FieldErrorHint, "stale staging sweep will remove it"),
			logging.Error(err),
		)
	}
	return Location{
		Backend: b.Name(),
		URI:     "s3://" + b.bucket + "/" + strings.TrimSuffix(prefix, "/"),
		Slug:    slug,
		Files:   files,
		Bytes:   size,
	}, nil
}

func (b *S3Backend) putFile(ctx context.Context, key, localPath string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *S3Backend) Remove(ctx context.Context, slug string) error {
	if err := validSlug(slug); err != nil {
		return err
	}
	if err := b.deletePrefix(ctx, b.slugPrefix(slug)); err != nil {
		return storageError("remove", "delete s3 objects for "+slug, err)
	}
	return nil
}

func (b *S3Backend) deletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
