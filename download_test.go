package imagepref

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDownload_Success(t *testing.T) {
	body := makeJPEG(32, 32)
	srv := newImageServer(t, "image/jpeg", body)

	cfg := &Config{HTTPClient: srv.Client()}
	res, err := cfg.Download(context.Background(), srv.URL+"/image.jpg", DownloadOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", res.MIMEType)
	}
	if len(res.Data) != len(body) {
		t.Errorf("Data len = %d, want %d", len(res.Data), len(body))
	}
}

func TestDownload_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-image content type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html></html>"))
			},
		},
		{
			name: "404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "image/png")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			cfg := &Config{HTTPClient: srv.Client()}
			res, err := cfg.Download(context.Background(), srv.URL+"/x", DownloadOpts{})
			if !errors.Is(err, ErrExtraction) {
				t.Fatalf("error = %v, want ErrExtraction", err)
			}
			if res != nil {
				t.Errorf("expected nil result, got %v", res)
			}
		})
	}
}

func TestDownload_MaxBytesEnforcement(t *testing.T) {
	const maxBytes = 10
	body := strings.Repeat("X", 100)

	srv := newImageServer(t, "image/png", []byte(body))

	cfg := &Config{HTTPClient: srv.Client()}
	_, err := cfg.Download(context.Background(), srv.URL+"/big.png", DownloadOpts{MaxBytes: maxBytes})
	if !errors.Is(err, ErrExtraction) || !strings.Contains(err.Error(), "exceeds 10 bytes") {
		t.Errorf("error = %v, want ErrExtraction for an oversized body", err)
	}

	res, err := cfg.Download(context.Background(), srv.URL+"/big.png", DownloadOpts{MaxBytes: int64(len(body))})
	if err != nil {
		t.Fatalf("body at the limit: %v", err)
	}
	if len(res.Data) != len(body) {
		t.Errorf("Data len = %d, want %d", len(res.Data), len(body))
	}
}

func TestDownload_StealthClientFallback(t *testing.T) {
	// srv is the real server that the fallback HTTPClient will reach.
	srv := newImageServer(t, "image/gif", []byte("GIF89a_FAKE_IMAGE_DATA_PADDING_XXXXXXXXXXXX"))

	// stealthSrv always returns 403 to simulate a failed stealth attempt.
	stealthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer stealthSrv.Close()

	stealthClient := stealthSrv.Client()
	stealthClient.Transport = redirectTransport(stealthSrv.URL)

	regularClient := srv.Client()
	regularClient.Transport = redirectTransport(srv.URL)

	cfg := &Config{
		StealthClient: stealthClient,
		HTTPClient:    regularClient,
	}

	// The URL itself doesn't matter; transports redirect to their respective test servers.
	res, err := cfg.Download(context.Background(), "http://example.com/image.gif", DownloadOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MIMEType != "image/gif" {
		t.Errorf("MIMEType = %q, want image/gif", res.MIMEType)
	}
}

// redirectTransport returns a RoundTripper that rewrites all requests to target.
type redirectTransport string

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = "http"
	req2.URL.Host = strings.TrimPrefix(string(rt), "http://")
	return http.DefaultTransport.RoundTrip(req2)
}

func TestDownload_MIMEParameterStripping(t *testing.T) {
	srv := newImageServer(t, "image/jpeg; charset=utf-8", []byte("FAKEIMAGEDATA"))

	cfg := &Config{HTTPClient: srv.Client()}
	res, err := cfg.Download(context.Background(), srv.URL+"/photo.jpg", DownloadOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q after stripping, want image/jpeg", res.MIMEType)
	}
}

func TestDownload_RateLimited(t *testing.T) {
	srv := newImageServer(t, "image/jpeg", []byte("FAKEIMAGEDATA"))

	cfg := &Config{HTTPClient: srv.Client(), FetchRate: 1}
	if _, err := cfg.Download(context.Background(), srv.URL+"/a.jpg", DownloadOpts{}); err != nil {
		t.Fatalf("first download: %v", err)
	}

	// The burst is spent; the next token is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := cfg.Download(ctx, srv.URL+"/b.jpg", DownloadOpts{}); !errors.Is(err, ErrExtraction) {
		t.Errorf("second download error = %v, want ErrExtraction from limiter", err)
	}
}
