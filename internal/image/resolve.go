package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
)

// DefaultTimeout bounds a single HTTP download.
const DefaultTimeout = 60 * time.Second

// Resolver opens image references. It never retries.
// The zero Log discards everything.
type Resolver struct {
	Client *http.Client
	Log    zerolog.Logger
}

// NewResolver returns a Resolver whose downloads time out after timeout.
func NewResolver(timeout time.Duration, log zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Resolver{Client: &http.Client{Timeout: timeout}, Log: log}
}

// Resolve returns a stream positioned at 0 for ref.
// Streams backed by files should be closed by the caller; see io.Closer.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (io.ReadSeeker, error) {
	return ref.resolve(ctx, r)
}

func (s Stream) resolve(context.Context, *Resolver) (io.ReadSeeker, error) {
	if _, err := s.R.Seek(0, io.SeekStart); err != nil {
		return nil, flasherr.Wrap(flasherr.FileOpenFailed, err, "Error rewinding binary stream")
	}

	return s.R, nil
}

func (p Path) resolve(context.Context, *Resolver) (io.ReadSeeker, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, flasherr.Wrap(flasherr.FileOpenFailed, err, "Error opening binary '%s'", string(p)).
			WithValue(string(p))
	}

	return f, nil
}

func (u URL) resolve(ctx context.Context, r *Resolver) (io.ReadSeeker, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	r.Log.Debug().Str("url", string(u)).Msg("fetching image")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(u), nil)
	if err != nil {
		return nil, downloadError(u, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, downloadError(u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, downloadError(u, fmt.Errorf("HTTP status %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, downloadError(u, err)
	}

	r.Log.Debug().Str("url", string(u)).Int("bytes", len(body)).Msg("image fetched")

	return bytes.NewReader(body), nil
}

func downloadError(u URL, err error) error {
	if isTimeout(err) {
		return flasherr.Wrap(flasherr.DownloadFailed, err, "Timeout while retrieving firmware file '%s'", string(u)).
			WithValue(string(u))
	}

	return flasherr.Wrap(flasherr.DownloadFailed, err, "Error while retrieving firmware file '%s'", string(u)).
		WithValue(string(u))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// Size returns the length of s and leaves it positioned at 0.
func Size(s io.Seeker) (int64, error) {
	n, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	return n, nil
}
