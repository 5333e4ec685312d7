package uploads

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matthewgall/binder/internal/config"
)

const (
	MethodLocal = "local"
	MethodS3    = "s3"

	defaultMediaDirectory = "data/media"
)

// New opens the backend that holds mirrored sprites. A local directory is
// created when it does not exist yet.
func New(ctx context.Context, cfg config.UploadsConfig) (Storage, error) {
	switch method := strings.ToLower(strings.TrimSpace(cfg.Method)); method {
	case "", MethodLocal:
		dir := strings.TrimSpace(cfg.Local.Directory)
		if dir == "" {
			dir = defaultMediaDirectory
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating media directory %s: %w", dir, err)
		}
		return NewLocal(dir), nil
	case MethodS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, method)
	}
}
