package boot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameAddressIgnoresCaseAndPrefix(t *testing.T) {
	require.True(t, sameAddress("0xABCDEF", "abcdef"))
	require.True(t, sameAddress("0xabcdef", "0xABCDEF"))
	require.False(t, sameAddress("0x1234", "0x5678"))
}

func TestHealthHandlerServesSnapshot(t *testing.T) {
	svc := &Services{}
	server := httptest.NewServer(NewHealthHandler(svc))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestHealthHandlerRootIsOK(t *testing.T) {
	svc := &Services{}
	server := httptest.NewServer(NewHealthHandler(svc))
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
