package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/transport"
	"gocloud.dev/blob"

	// Drivers for the bucket schemes we support out of the box.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// Client fetches replica snapshots from any gocloud.dev blob bucket
// (s3://, gs://, azblob://, file://, mem://). The locator's remote URL is
// split into a bucket URL and an object key, e.g.
// "s3://snapshots/reports.db" fetches key "reports.db" from "s3://snapshots".
type Client struct {
	stagingDir string

	// openBucket is swappable for tests.
	openBucket func(ctx context.Context, bucketURL string) (*blob.Bucket, error)
}

func NewClient(stagingDir string) *Client {
	return &Client{
		stagingDir: stagingDir,
		openBucket: blob.OpenBucket,
	}
}

// FetchSnapshot downloads the object behind loc.RemoteURL into the staging
// directory, reporting byte progress along the way.
func (c *Client) FetchSnapshot(ctx context.Context, loc replica.Locator, onProgress func(transport.Progress)) (*replica.Snapshot, error) {
	logger := logctx.LoggerFromContext(ctx).With("replica", loc.Name)

	bucketURL, key, err := splitRemoteURL(loc.RemoteURL)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: err}
	}

	bucket, err := c.openBucket(ctx, bucketURL)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: fmt.Errorf("failed to open bucket: %w", err)}
	}
	defer bucket.Close()

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: fmt.Errorf("failed to stat object: %w", err)}
	}

	reader, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: fmt.Errorf("failed to read object: %w", err)}
	}
	defer reader.Close()

	logger.InfoContext(ctx, "downloading snapshot",
		"bucket", bucketURL,
		"key", key,
		"file_size", humanize.Bytes(uint64(attrs.Size)))

	snap, err := transport.StageSnapshot(ctx, c.stagingDir, loc, reader, attrs.Size, onProgress)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: err}
	}

	return snap, nil
}

// splitRemoteURL separates a blob object URL into its bucket URL and key.
// For host-addressed buckets (s3://, gs://, mem://) the key is the full
// path; for file:// buckets the directory is the bucket and the file name
// is the key.
func splitRemoteURL(remoteURL string) (string, string, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid remote url %s: %w", remoteURL, err)
	}

	if u.Scheme == "" {
		return "", "", fmt.Errorf("remote url %s has no scheme", remoteURL)
	}

	if u.Scheme == "file" {
		dir, base := path.Split(u.Path)

		dir = strings.TrimSuffix(dir, "/")
		if dir == "" || base == "" {
			return "", "", fmt.Errorf("remote url %s has no object key", remoteURL)
		}

		return "file://" + dir, base, nil
	}

	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("remote url %s has no object key", remoteURL)
	}

	u.Path = ""
	u.RawQuery = ""

	return u.String(), key, nil
}
