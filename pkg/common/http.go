package common

import (
	_ "embed"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/wattwindow/pkg/log"
)

//go:embed VERSION
var version string

// feedTransport identifies us to upstream price feeds and logs every
// upstream call at debug level.
type feedTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *feedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller's request must not be modified
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/csv, */*;q=0.5")
	}

	ctx := req.Context()
	start := time.Now()
	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "upstream request failed", slog.String("url", req.URL.String()), slog.Any("error", err))
		return nil, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"upstream request",
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)
	return resp, nil
}

// Version returns the build version.
func Version() string {
	return strings.TrimSpace(version)
}

// HTTPClient returns the http client used for upstream price feeds.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &feedTransport{
			transport: http.DefaultTransport,
			userAgent: "WattWindow/" + Version(),
		},
		Timeout: timeout,
	}
}
