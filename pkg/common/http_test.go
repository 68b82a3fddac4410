package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timeout := 5 * time.Second
	client := HTTPClient(timeout)
	assert.Equal(t, timeout, client.Timeout)

	t.Run("Defaults", func(t *testing.T) {
		req, err := http.NewRequest("GET", server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "WattWindow/"+Version(), gotUA)
		assert.Equal(t, "text/csv, */*;q=0.5", gotAccept)
		// the caller's request is left alone
		assert.Empty(t, req.Header.Get("User-Agent"))
	})

	t.Run("Keeps_Accept", func(t *testing.T) {
		req, err := http.NewRequest("GET", server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "application/json", gotAccept)
	})

	t.Run("Transport_Error", func(t *testing.T) {
		req, err := http.NewRequest("GET", "http://127.0.0.1:1", nil)
		require.NoError(t, err)
		_, err = client.Do(req)
		assert.Error(t, err)
	})
}
