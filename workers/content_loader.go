package workers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"git-arcade/services"
	"git-arcade/utils"
)

// ContentLoader imports the content bundle named by Source: a file path, an
// http(s) URL or s3://bucket/key.
type ContentLoader struct {
	Source  string
	Content *services.ContentService

	HTTPClient *http.Client
	// S3 opens the bucket client on first use.
	S3 func(ctx context.Context) (utils.ObjectGetter, error)
}

func (l *ContentLoader) open(ctx context.Context) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(l.Source, "http://"), strings.HasPrefix(l.Source, "https://"):
		return utils.Fetch(ctx, l.HTTPClient, l.Source)
	case strings.HasPrefix(l.Source, "s3://"):
		bucket, key, err := utils.ParseS3URL(l.Source)
		if err != nil {
			return nil, err
		}
		if l.S3 == nil {
			return nil, fmt.Errorf("no S3 client configured for %s", l.Source)
		}
		client, err := l.S3(ctx)
		if err != nil {
			return nil, err
		}
		return utils.OpenObject(ctx, client, bucket, key)
	}
	return os.Open(l.Source)
}

// Load reads, decodes and imports the bundle. An empty Source is a no-op.
func (l *ContentLoader) Load(ctx context.Context) error {
	if l.Source == "" {
		return nil
	}
	logger := log.With().Str("component", "content").Str("source", l.Source).Logger()
	logger.Info().Msg("loading content bundle")

	rc, err := l.open(ctx)
	if err != nil {
		return fmt.Errorf("open content source: %w", err)
	}
	defer rc.Close()

	bundle, err := services.DecodeBundle(rc)
	if err != nil {
		return err
	}
	if err := l.Content.Import(ctx, bundle); err != nil {
		return fmt.Errorf("import content: %w", err)
	}
	return nil
}
