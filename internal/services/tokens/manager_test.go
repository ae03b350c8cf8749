package tokens

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/models"
	"github.com/ternarybob/dracma/internal/services/portal"
)

type stubRefresher struct {
	token string
	err   error
	calls int
}

func (s *stubRefresher) Refresh(_ context.Context, _ *models.TokenPair) (string, error) {
	s.calls++
	return s.token, s.err
}

func TestResolve(t *testing.T) {
	pair := models.NewTokenPair("original-id", "refresh")

	tests := []struct {
		name       string
		refresher  *stubRefresher
		wantValue  string
		wantSource models.TokenSource
	}{
		{name: "refreshed", refresher: &stubRefresher{token: "fresh-id"}, wantValue: "fresh-id", wantSource: models.TokenSourceRefreshed},
		{name: "refresh error falls back", refresher: &stubRefresher{err: errors.New("boom")}, wantValue: "original-id", wantSource: models.TokenSourceOriginal},
		{
			name:       "api error falls back",
			refresher:  &stubRefresher{err: &portal.APIError{StatusCode: 401, Message: "expired", Endpoint: portal.RefreshPath}},
			wantValue:  "original-id",
			wantSource: models.TokenSourceOriginal,
		},
		{name: "empty token falls back", refresher: &stubRefresher{}, wantValue: "original-id", wantSource: models.TokenSourceOriginal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.refresher, arbor.NewLogger())
			active := m.Resolve(context.Background(), pair)

			assert.Equal(t, tt.wantValue, active.Value)
			assert.Equal(t, tt.wantSource, active.Source)
			assert.Equal(t, 1, tt.refresher.calls, "refresh is attempted exactly once")
		})
	}
}

func TestRefresh_NilPair(t *testing.T) {
	refresher := &stubRefresher{token: "x"}
	token, ok := NewManager(refresher, arbor.NewLogger()).Refresh(context.Background(), nil)

	assert.False(t, ok)
	assert.Empty(t, token)
	assert.Zero(t, refresher.calls)
}

func TestResolve_NilPair(t *testing.T) {
	refresher := &stubRefresher{token: "x"}
	active := NewManager(refresher, arbor.NewLogger()).Resolve(context.Background(), nil)

	assert.Equal(t, models.ActiveToken{}, active)
	assert.Zero(t, refresher.calls)
}

func TestResolve_AgainstPortal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"down"}`))
	}))
	defer srv.Close()

	m := NewManager(portal.NewClient(srv.URL, portal.WithLogger(arbor.NewLogger())), arbor.NewLogger())
	active := m.Resolve(context.Background(), models.NewTokenPair("original-id", "refresh"))

	assert.Equal(t, models.ActiveToken{Value: "original-id", Source: models.TokenSourceOriginal}, active)
}
