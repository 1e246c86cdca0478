package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grindstone-hq/grindstone/internal/domain/notification"
)

// fakeAPI answers sendMessage with the queued replies, then with ok.
type fakeAPI struct {
	mu      sync.Mutex
	replies []string
	bodies  []map[string]any
	paths   []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.paths = append(f.paths, r.URL.Path)
	reply := `{"ok":true,"result":{"message_id":7,"date":1}}`
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, reply)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		Token:         "TOKEN",
		BaseURL:       srv.URL,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestClient_SendText(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	msg, err := c.SendText(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.EqualValues(t, 7, msg.MessageID)

	require.Len(t, api.bodies, 1)
	assert.Equal(t, "/botTOKEN/sendMessage", api.paths[0])
	assert.EqualValues(t, 42, api.bodies[0]["chat_id"])
	assert.Equal(t, "hello", api.bodies[0]["text"])
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		calls   int
		wantErr bool
	}{
		{
			name:    "server error then ok",
			replies: []string{`{"ok":false,"error_code":502,"description":"Bad Gateway"}`},
			calls:   2,
		},
		{
			name:    "bad request is final",
			replies: []string{`{"ok":false,"error_code":400,"description":"chat not found"}`},
			calls:   1,
			wantErr: true,
		},
		{
			name: "gives up after the last attempt",
			replies: []string{
				`{"ok":false,"error_code":500,"description":"x"}`,
				`{"ok":false,"error_code":500,"description":"x"}`,
				`{"ok":false,"error_code":500,"description":"x"}`,
			},
			calls:   3,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{replies: tt.replies}
			c := newTestClient(t, api)

			_, err := c.SendText(context.Background(), 1, "x")
			if tt.wantErr {
				var apiErr *APIError
				assert.ErrorAs(t, err, &apiErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, api.bodies, tt.calls)
		})
	}
}

func TestSender_Send(t *testing.T) {
	api := &fakeAPI{}
	s := NewSender(newTestClient(t, api), 99)

	require.NoError(t, s.Send(context.Background(), notification.Notification{
		Priority: notification.PriorityNormal, Title: "Level up", Message: "You reached level 3.",
	}))
	require.NoError(t, s.Send(context.Background(), notification.Notification{
		Priority: notification.PriorityUrgent, Title: "Demoted", Message: "Down to 2.",
	}))

	require.Len(t, api.bodies, 2)
	assert.Equal(t, "• Level up\nYou reached level 3.", api.bodies[0]["text"])
	assert.Equal(t, true, api.bodies[0]["disable_notification"])
	assert.Equal(t, "🚨 Demoted\nDown to 2.", api.bodies[1]["text"])
	assert.NotContains(t, api.bodies[1], "disable_notification")
}
