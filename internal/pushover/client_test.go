package pushover

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zaptest.NewLogger(t))
}

func TestLoginSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/1/users/login.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "hunter2", r.PostForm.Get("password"))
		json.NewEncoder(w).Encode(map[string]any{"status": 1, "secret": "tok-abc"})
	}))

	session, err := client.Login(context.Background(), Credentials{Email: "user@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", session.Secret)
}

func TestLoginInvalidCredentials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		json.NewEncoder(w).Encode(map[string]any{"status": 0, "errors": map[string]any{"email": []string{"is not valid"}}})
	}))

	_, err := client.Login(context.Background(), Credentials{Email: "user@example.com", Password: "wrong"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthInvalidCredentials, authErr.Reason)
	assert.False(t, authErr.Transient())
	assert.NotContains(t, err.Error(), "wrong", "error must not leak the password")
}

func TestLoginRateLimited(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Login(context.Background(), Credentials{Email: "user@example.com", Password: "hunter2"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthRateLimited, authErr.Reason)
	assert.True(t, authErr.Transient())
}

func TestLoginNetworkError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second, zaptest.NewLogger(t))

	_, err := client.Login(context.Background(), Credentials{Email: "user@example.com", Password: "hunter2"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthNetwork, authErr.Reason)
	assert.True(t, authErr.Transient())
}

func TestRegisterDeviceSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/devices.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok-abc", r.PostForm.Get("secret"))
		assert.Equal(t, "basement", r.PostForm.Get("name"))
		assert.Equal(t, "O", r.PostForm.Get("os"))
		json.NewEncoder(w).Encode(map[string]any{"status": 1, "id": "dev-42"})
	}))

	identity, err := client.RegisterDevice(context.Background(), &Session{Secret: "tok-abc"}, "basement")
	require.NoError(t, err)
	assert.Equal(t, "dev-42", identity.DeviceID)
	assert.Equal(t, "tok-abc", identity.Secret)
	assert.Equal(t, "basement", identity.DeviceName)
}

func TestRegisterDeviceErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		wantReason RegistrationReason
	}{
		{
			name:       "name taken",
			body:       map[string]any{"status": 0, "errors": map[string]any{"name": []string{"has already been taken"}}},
			wantReason: RegistrationNameTaken,
		},
		{
			name:       "invalid session secret",
			body:       map[string]any{"status": 0, "errors": map[string]any{"secret": []string{"is invalid"}}},
			wantReason: RegistrationInvalidSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(tt.body)
			}))

			_, err := client.RegisterDevice(context.Background(), &Session{Secret: "tok"}, "basement")
			var regErr *RegistrationError
			require.ErrorAs(t, err, &regErr)
			assert.Equal(t, tt.wantReason, regErr.Reason)
		})
	}
}

func TestFetchMessages(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1/messages.json", r.URL.Path)
		assert.Equal(t, "s3cret", r.URL.Query().Get("secret"))
		assert.Equal(t, "dev-42", r.URL.Query().Get("device_id"))
		w.Write([]byte(`{"status":1,"messages":[{"id":1,"message":"a"},{"id":2,"message":"b"}]}`))
	}))

	raws, err := client.FetchMessages(context.Background(), "dev-42", "s3cret")
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.JSONEq(t, `{"id":1,"message":"a"}`, string(raws[0]))
}

func TestAckMessage(t *testing.T) {
	var gotPath, gotMessage string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotMessage = r.PostForm.Get("message")
		json.NewEncoder(w).Encode(map[string]any{"status": 1})
	}))

	require.NoError(t, client.AckMessage(context.Background(), "dev-42", "s3cret", "123456"))
	assert.Equal(t, "/1/devices/dev-42/update_highest_message.json", gotPath)
	assert.Equal(t, "123456", gotMessage)
}

func TestAckMessageRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": 0})
	}))

	err := client.AckMessage(context.Background(), "dev-42", "s3cret", "123456")
	assert.Error(t, err)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "lowest", PriorityLowest.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "emergency", PriorityEmergency.String())
	assert.Equal(t, "unknown", Priority(7).String())
}
