package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithLogger(arbor.NewLogger())}, opts...)
	return NewClient(srv.URL+"/", opts...)
}

func TestRefresh(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, RefreshPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "id-1", body["idToken"])
		assert.Equal(t, "refresh-1", body["refreshToken"])

		w.Write([]byte(`{"idToken":"id-2","expiresIn":3600}`))
	})

	token, err := client.Refresh(context.Background(), models.NewTokenPair("id-1", "refresh-1"))
	require.NoError(t, err)
	assert.Equal(t, "id-2", token)
}

func TestRefresh_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantAPI bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: strings.Repeat("x", 500), wantAPI: true},
		{name: "missing idToken", status: http.StatusOK, body: `{"accessToken":"abc"}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			token, err := client.Refresh(context.Background(), models.NewTokenPair("id", "refresh"))
			require.Error(t, err)
			assert.ErrorIs(t, err, interfaces.ErrTokenRefresh)
			assert.Empty(t, token)

			var apiErr *APIError
			assert.Equal(t, tt.wantAPI, errors.As(err, &apiErr))
			if tt.wantAPI {
				assert.Equal(t, tt.status, apiErr.StatusCode)
				assert.Len(t, apiErr.Message, 200)
			}
		})
	}
}

func TestRefresh_NilPair(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", WithLogger(arbor.NewLogger()))

	_, err := client.Refresh(context.Background(), nil)
	assert.ErrorIs(t, err, interfaces.ErrTokenRefresh)
}

func TestCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer active", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/advisor/clients/movements":
			assert.Equal(t, "CVAL", r.URL.Query().Get("custodian"))
			assert.Equal(t, "2024", r.URL.Query().Get("year"))
			w.Write([]byte(`[{"id":1}]`))
		case "/advisor/reports":
			assert.Equal(t, http.MethodPost, r.Method)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "monthly", body["period"])
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	})

	resp, err := client.Call(context.Background(), "active", models.EndpointDescriptor{
		Path:   "/advisor/clients/movements?custodian=CVAL",
		Params: map[string]string{"year": "2024"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, resp.Method)
	assert.JSONEq(t, `[{"id":1}]`, string(resp.Body))
	assert.Contains(t, resp.URL, "custodian=CVAL")

	resp, err = client.Call(context.Background(), "active", models.EndpointDescriptor{
		Path:   "/advisor/reports",
		Method: "post",
		Body:   map[string]any{"period": "monthly"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(resp.Body))

	_, err = client.Call(context.Background(), "active", models.EndpointDescriptor{Path: "/missing"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "/missing", apiErr.Endpoint)
}

func TestCall_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.Call(context.Background(), "active", models.EndpointDescriptor{Path: "/x"})
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestCall_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}, WithTimeout(20*time.Millisecond))

	_, err := client.Call(context.Background(), "active", models.EndpointDescriptor{Path: "/slow"})
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, WithRateLimit(20))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Call(context.Background(), "t", models.EndpointDescriptor{Path: "/x"})
		require.NoError(t, err)
	}
	// burst of one: the 2nd and 3rd calls each wait ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
