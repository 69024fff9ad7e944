package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quanta-social/feedengine/pkg/entities"
)

// prefetchBytes is how much of the stream head a preload pulls through
// the codec's cache.
const prefetchBytes = 256 * 1024

// HTTPLoader warms a media URL by streaming its head, enough for the
// opaque codec to start playback without a visible stall.
type HTTPLoader struct {
	Client *http.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{Client: &http.Client{Timeout: timeout}}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", prefetchBytes-1))

	resp, err := l.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: status %d for %s", entities.ErrMediaDecode, resp.StatusCode, url)
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, prefetchBytes)); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrNetwork, err)
	}
	return nil
}
