package putio

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/transport"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

// Scheme prefixes a put.io file id in a locator's remote URL,
// e.g. "putio://123456".
const Scheme = "putio://"

// Client fetches replica snapshots stored as files on put.io.
type Client struct {
	putioClient *putio.Client
	stagingDir  string
	httpClient  *http.Client
}

func NewClient(token string, stagingDir string) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Client{
		putioClient: putio.NewClient(oauthClient),
		stagingDir:  stagingDir,
		httpClient:  http.DefaultClient,
	}
}

// Authenticate verifies the configured token against the account endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account info: %w", err)
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// FetchSnapshot downloads the snapshot file behind loc.RemoteURL into the
// staging directory, reporting byte progress along the way.
func (c *Client) FetchSnapshot(ctx context.Context, loc replica.Locator, onProgress func(transport.Progress)) (*replica.Snapshot, error) {
	logger := logctx.LoggerFromContext(ctx).With("replica", loc.Name)

	fileID, err := parseFileID(loc.RemoteURL)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: err}
	}

	file, err := c.putioClient.Files.Get(ctx, fileID)
	if err != nil {
		return nil, classify(loc, fmt.Errorf("failed to get file: %w", err))
	}

	url, err := c.putioClient.Files.URL(ctx, fileID, false)
	if err != nil {
		return nil, classify(loc, fmt.Errorf("failed to get file download url: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &replica.DownloadError{Locator: loc.Name, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(loc, fmt.Errorf("failed to get file: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classify(loc, fmt.Errorf("unexpected status %d fetching snapshot", resp.StatusCode))
	}

	logger.InfoContext(ctx, "downloading snapshot",
		"file_id", fileID,
		"file_size", humanize.Bytes(uint64(file.Size)))

	snap, err := transport.StageSnapshot(ctx, c.stagingDir, loc, resp.Body, file.Size, onProgress)
	if err != nil {
		return nil, classify(loc, err)
	}

	return snap, nil
}

// classify wraps transfer failures as DownloadError, detecting the
// session-inactive signature that put.io reports when a concurrent open of
// the same file tears the session down.
func classify(loc replica.Locator, err error) error {
	code := ""
	if strings.Contains(err.Error(), "session became inactive") {
		code = replica.CodeSessionInactive
	}

	return &replica.DownloadError{Locator: loc.Name, Code: code, Err: err}
}

func parseFileID(remoteURL string) (int64, error) {
	if !strings.HasPrefix(remoteURL, Scheme) {
		return 0, fmt.Errorf("unsupported remote url: %s", remoteURL)
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(remoteURL, Scheme), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid put.io file id in %s: %w", remoteURL, err)
	}

	return id, nil
}
