// Package archive copies forwarded media to an S3-compatible bucket so it
// survives the temp-file cleanup. Archiving is optional and best effort.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"instabridge/internal/models"
)

// Config holds the bucket target and credentials.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Archiver uploads every forwarded media item under a per-sender, per-day key
// prefix.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver builds the S3 client. An empty bucket disables archiving and
// returns a nil Archiver, which is safe to skip at the call site.
func NewArchiver(cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		log.Info().Msg("S3 bucket not set, media archiving disabled")
		return nil, nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available for bucket %s", cfg.Bucket)
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, HostnameImmutable: cfg.PathStyle}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	// Buckets with dots break virtual-hosted TLS, force path style for them.
	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 archiver initialized")
	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// MessageForwarded uploads the media of one forwarded message. Failures are
// logged and dropped.
func (a *Archiver) MessageForwarded(ctx context.Context, mapping models.MessageMapping, content models.InboundContent) {
	for i, item := range content.Media {
		key := objectKey(mapping, i, item)
		if err := a.upload(ctx, key, item); err != nil {
			log.Error().Err(err).Str("key", key).Str("bucket", a.bucket).Msg("Failed to archive media")
			continue
		}
		log.Debug().Str("key", key).Msg("Media archived")
	}
}

func objectKey(mapping models.MessageMapping, index int, item models.MediaItem) string {
	now := time.Now()
	return fmt.Sprintf("senders/%s/%s/%s_%d%s",
		mapping.SenderHandle,
		now.Format("2006/01/02"),
		mapping.SourceMessageID,
		index,
		extFor(item.Kind),
	)
}

func extFor(kind models.MediaKind) string {
	switch kind {
	case models.MediaVideo:
		return ".mp4"
	case models.MediaAudio:
		return ".mp3"
	default:
		return ".jpg"
	}
}

func contentType(kind models.MediaKind) string {
	switch kind {
	case models.MediaVideo:
		return "video/mp4"
	case models.MediaAudio:
		return "audio/mpeg"
	default:
		return "image/jpeg"
	}
}

func (a *Archiver) upload(ctx context.Context, key string, item models.MediaItem) error {
	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(a.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(contentType(item.Kind)),
		ContentDisposition: aws.String("inline"),
	})
	return err
}
