package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
)

// ErrNoFeeds is returned when the feed list contains no URLs.
var ErrNoFeeds = errors.New("feed list is empty")

// ObjectOpener opens objects in a bucket.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSOpener reads feed lists from Google Cloud Storage.
type GCSOpener struct {
	client *storage.Client
}

// NewGCSOpener wraps a storage client.
func NewGCSOpener(client *storage.Client) *GCSOpener {
	return &GCSOpener{client: client}
}

// Open returns a reader for gs://bucket/object.
func (g *GCSOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}

// LoadList reads the feed list at path. Paths of the form gs://bucket/object are
// read through opener; anything else is a local file.
func LoadList(ctx context.Context, path string, opener ObjectOpener) ([]string, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if bucket, object, ok := splitGCSPath(path); ok {
		if opener == nil {
			return nil, fmt.Errorf("feed list %s requires a storage client", path)
		}
		rc, err = opener.Open(ctx, bucket, object)
	} else {
		rc, err = os.Open(path) //nolint:gosec // operator-supplied path
	}
	if err != nil {
		return nil, fmt.Errorf("open feed list: %w", err)
	}
	defer rc.Close() //nolint:errcheck // read-only

	feeds, err := ReadList(rc)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, ErrNoFeeds
	}
	return feeds, nil
}

// ReadList returns one feed URL per non-empty line. Lines starting with # are comments.
func ReadList(r io.Reader) ([]string, error) {
	var feeds []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		feeds = append(feeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed list: %w", err)
	}
	return feeds, nil
}

func splitGCSPath(path string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(path, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}
