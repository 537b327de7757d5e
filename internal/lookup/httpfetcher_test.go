package lookup_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/internal/lookup"
)

func TestHTTPFetcherFetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	fetcher := lookup.NewHTTPFetcher(srv.URL)
	bits, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, bits)
}

func TestHTTPFetcherErrorsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := lookup.NewHTTPFetcher(srv.URL)
	_, err := fetcher.Fetch(context.Background())
	require.Error(t, err)
}
