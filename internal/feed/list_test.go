package feed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOpener struct {
	objects map[string]string
	opened  []string
}

func (f *fakeOpener) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	key := bucket + "/" + object
	f.opened = append(f.opened, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// TestReadListSkipsBlankAndComments keeps only URL lines.
func TestReadListSkipsBlankAndComments(t *testing.T) {
	t.Parallel()

	feeds, err := ReadList(strings.NewReader("https://a.example/rss\n\n  # paused\n  https://b.example/atom  \n\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/rss", "https://b.example/atom"}, feeds)
}

// TestLoadListLocalFile reads a list from disk.
func TestLoadListLocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feeds.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example/rss\nhttps://b.example/rss\n"), 0o600))

	feeds, err := LoadList(context.Background(), path, nil)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
}

// TestLoadListEmpty rejects a list with no URLs.
func TestLoadListEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feeds.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o600))

	_, err := LoadList(context.Background(), path, nil)
	require.ErrorIs(t, err, ErrNoFeeds)
}

// TestLoadListMissingFile surfaces open errors.
func TestLoadListMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadList(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.ErrorContains(t, err, "open feed list")
}

// TestLoadListGCS routes gs:// paths through the object opener.
func TestLoadListGCS(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{objects: map[string]string{"lists/feeds/all.txt": "https://c.example/rss\n"}}
	feeds, err := LoadList(context.Background(), "gs://lists/feeds/all.txt", opener)
	require.NoError(t, err)
	require.Equal(t, []string{"https://c.example/rss"}, feeds)
	require.Equal(t, []string{"lists/feeds/all.txt"}, opener.opened)

	_, err = LoadList(context.Background(), "gs://lists/none.txt", opener)
	require.ErrorContains(t, err, "object not found")

	_, err = LoadList(context.Background(), "gs://lists/feeds/all.txt", nil)
	require.ErrorContains(t, err, "requires a storage client")
}

// TestSplitGCSPath accepts only bucket/object pairs.
func TestSplitGCSPath(t *testing.T) {
	t.Parallel()

	bucket, object, ok := splitGCSPath("gs://b/o/p.txt")
	require.True(t, ok)
	require.Equal(t, "b", bucket)
	require.Equal(t, "o/p.txt", object)

	_, _, ok = splitGCSPath("gs://bucket-only")
	require.False(t, ok)
	_, _, ok = splitGCSPath("/tmp/feeds.txt")
	require.False(t, ok)
}
