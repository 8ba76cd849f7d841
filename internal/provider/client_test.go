package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:       srv.URL,
		TokenURL:      srv.URL + "/token",
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, nil)
}

func apiError(reason, message string) string {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"errors":  []map[string]string{{"reason": reason}},
		},
	})
	return string(body)
}

func TestClientTransitionBroadcast(t *testing.T) {
	var gotAuth, gotStatus, gotID atomic.Value
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotStatus.Store(r.URL.Query().Get("broadcastStatus"))
		gotID.Store(r.URL.Query().Get("id"))
		w.Write([]byte(`{}`))
	}))

	err := client.TransitionBroadcast(context.Background(), "tok", "bc-1", BroadcastStatusLive)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth.Load())
	assert.Equal(t, "live", gotStatus.Load())
	assert.Equal(t, "bc-1", gotID.Load())
}

func TestClientErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		wantHit bool
	}{
		{"already live", http.StatusForbidden, apiError("redundantTransition", "already live"), IsAlreadyLive, true},
		{"processing", http.StatusForbidden, apiError("errorStreamInactive", "stream inactive"), IsProcessing, true},
		{"invalid transition", http.StatusForbidden, apiError("invalidTransition", "not ready"), IsProcessing, true},
		{"credential expired", http.StatusUnauthorized, apiError("authError", "invalid credentials"), IsCredentialExpired, true},
		{"rate limited", http.StatusTooManyRequests, apiError("rateLimitExceeded", "slow down"), IsTransient, true},
		{"not found is permanent", http.StatusNotFound, apiError("videoNotFound", "gone"), IsTransient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			err := client.SetVideoPrivacy(context.Background(), "tok", "vid", "unlisted")
			require.Error(t, err)
			assert.Equal(t, tt.wantHit, tt.check(err))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(apiError("backendError", "try later")))
			return
		}
		w.Write([]byte(`{}`))
	}))

	err := client.TransitionBroadcast(context.Background(), "tok", "bc-1", BroadcastStatusComplete)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(apiError("invalidRequest", "bad")))
	}))

	err := client.SetVideoPrivacy(context.Background(), "tok", "vid", "unlisted")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientCreateBroadcast(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		snippet := payload["snippet"].(map[string]any)
		assert.Equal(t, "My Show", snippet["title"])
		status := payload["status"].(map[string]any)
		assert.Equal(t, "unlisted", status["privacyStatus"])
		w.Write([]byte(`{"id":"bc-99"}`))
	}))

	id, err := client.CreateBroadcast(context.Background(), "tok", CreateBroadcastRequest{
		Title:     "My Show",
		Privacy:   "unlisted",
		StartTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "bc-99", id)
}

func TestClientCreateBroadcastRejectsEmptyID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := client.CreateBroadcast(context.Background(), "tok", CreateBroadcastRequest{Title: "x"})
	assert.Error(t, err)
}

func TestClientRefreshAccessToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		w.Write([]byte(`{"access_token":"at-1","expires_in":3600}`))
	}))

	tok, err := client.RefreshAccessToken(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/videos",
		obfuscateURL("https://api.example.com/videos?id=secret&key=tok"))
}
