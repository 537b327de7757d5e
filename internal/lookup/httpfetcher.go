package lookup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpFetchTimeout = 5 * time.Second

// HTTPFetcher is a Fetcher that downloads the InfectionLookup bitset with a
// plain GET, grounded on the teacher's client/http.go request-with-timeout
// shape. The registration/status server itself is an external collaborator
// per spec.md §1; this is the minimal client side of that boundary.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher builds a fetcher against url using http.DefaultTransport.
func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{URL: url, Client: &http.Client{Timeout: httpFetchTimeout}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, httpFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("lookup: building request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: fetching %s: %w", f.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup: fetching %s: unexpected status %s", f.URL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lookup: reading response: %w", err)
	}
	return body, nil
}
