package putio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/transport"
	putio "github.com/putdotio/go-putio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileID(t *testing.T) {
	tests := []struct {
		name      string
		remoteURL string
		want      int64
		wantErr   bool
	}{
		{
			name:      "valid id",
			remoteURL: "putio://123456",
			want:      123456,
		},
		{
			name:      "wrong scheme",
			remoteURL: "s3://bucket/key",
			wantErr:   true,
		},
		{
			name:      "non-numeric id",
			remoteURL: "putio://abc",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFileID(tt.remoteURL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFileID() error = %v, wantErr %v", err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("parseFileID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClassify_SessionInactive(t *testing.T) {
	loc := replica.Locator{Name: "reports"}

	err := classify(loc, errors.New("sync: session became inactive"))

	var download *replica.DownloadError
	require.ErrorAs(t, err, &download)
	assert.Equal(t, replica.CodeSessionInactive, download.Code)
	assert.True(t, download.SessionInactive())
}

func TestClassify_GenericFailure(t *testing.T) {
	loc := replica.Locator{Name: "reports"}

	err := classify(loc, errors.New("connection reset"))

	var download *replica.DownloadError
	require.ErrorAs(t, err, &download)
	assert.Empty(t, download.Code)
	assert.False(t, download.SessionInactive())
}

func TestFetchSnapshot(t *testing.T) {
	content := []byte("snapshot database bytes")

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/files/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"file": {"id": 42, "name": "reports.db", "size": %d}, "status": "OK"}`, len(content))
	})
	mux.HandleFunc("/v2/files/42/url", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"url": %q, "status": "OK"}`, serverURL(r)+"/download/42")
	})
	mux.HandleFunc("/download/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server)

	var samples []transport.Progress

	loc := replica.Locator{Name: "reports", RemoteURL: "putio://42"}
	snap, err := client.FetchSnapshot(context.Background(), loc, func(p transport.Progress) {
		samples = append(samples, p)
	})
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, int64(len(content)), snap.Size)
	assert.FileExists(t, snap.Path)

	require.NotEmpty(t, samples)
	last := samples[len(samples)-1]
	assert.Equal(t, int64(len(content)), last.Transferred)
	assert.Equal(t, int64(len(content)), last.Transferable)
	assert.InDelta(t, 1.0, last.Estimate, 1e-9)
}

func TestFetchSnapshot_RemoteFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/files/42", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_message": "server error", "status": "ERROR"}`, http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server)

	loc := replica.Locator{Name: "reports", RemoteURL: "putio://42"}
	_, err := client.FetchSnapshot(context.Background(), loc, nil)

	var download *replica.DownloadError
	require.ErrorAs(t, err, &download)
	assert.Equal(t, "reports", download.Locator)
}

func TestFetchSnapshot_Canceled(t *testing.T) {
	content := make([]byte, 4*1024*1024)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/files/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"file": {"id": 42, "name": "reports.db", "size": %d}, "status": "OK"}`, len(content))
	})
	mux.HandleFunc("/v2/files/42/url", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"url": %q, "status": "OK"}`, serverURL(r)+"/download/42")
	})
	mux.HandleFunc("/download/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server)

	ctx, cancel := context.WithCancel(context.Background())

	loc := replica.Locator{Name: "reports", RemoteURL: "putio://42"}
	_, err := client.FetchSnapshot(ctx, loc, func(transport.Progress) {
		// Cancel mid-transfer, from inside a progress callback.
		cancel()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	goputioClient := putio.NewClient(server.Client())

	u, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	goputioClient.BaseURL = u

	return &Client{
		putioClient: goputioClient,
		stagingDir:  t.TempDir(),
		httpClient:  server.Client(),
	}
}

func serverURL(r *http.Request) string {
	return "http://" + r.Host
}
