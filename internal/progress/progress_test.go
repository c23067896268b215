package progress

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockClient struct {
	send chan []byte
}

func (m *mockClient) sendChannel() chan []byte { return m.send }
func (m *mockClient) close()                   {}

func TestHub_ValidatesOrigin(t *testing.T) {
	hub := NewHub()
	hub.AllowedOrigins = map[string]bool{"http://localhost:8080": true}
	defer hub.Stop()

	req := httptest.NewRequest("GET", "/progress", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()

	hub.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	mc := &mockClient{send: received}
	hub.register <- mc

	time.Sleep(10 * time.Millisecond)

	hub.Publish(Frame{Stage: "stage1", CompletedItems: 3, TotalItems: 10})

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "stage1")
		assert.Contains(t, string(msg), `"completed_items":3`)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast frame")
	}
}

func TestHub_PublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	// Run is never started; broadcast channel fills and Publish must not block.
	for i := 0; i < cap(hub.broadcast)+1; i++ {
		hub.Publish(Frame{Stage: "stage1"})
	}
}
