package satref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout is the timeout for a single file download.
const DefaultTimeout = 10 * time.Minute

// DefaultUserAgent is sent with each request.
const DefaultUserAgent = "satref2rinex"

// StatusError is returned by Download if the server responds with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s failed: %s", e.URL, e.Status)
}

// IsNotFound returns true if err is a StatusError with status 404.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client downloads files from the archive.
// The http.Client's Transport typically has internal state (cached TCP connections), so Clients should be reused
// instead of created as needed.
type Client struct {
	*http.Client
	Useragent string
}

// NewClient returns a client with the given timeout for each request.
// A zero timeout means DefaultTimeout. It uses HTTP proxies
// as directed by the $HTTP_PROXY and $NO_PROXY (or $http_proxy and
// $no_proxy) environment variables.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Client:    &http.Client{Timeout: timeout},
		Useragent: DefaultUserAgent,
	}
}

// Download streams the file given by url to dst and returns the number of bytes written.
// dst is only created if the server responds with 200 OK. On a failed transfer the
// partial dst is left on disk.
func (c *Client) Download(ctx context.Context, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.Useragent)

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("download %s: %w", url, err)
	}
	return n, f.Close()
}
