package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Tutortoise/frame-pipeline/models"
)

func waitForClients(t *testing.T, hub *FrameHub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFrameStream(t *testing.T) {
	state := newTestState(t, &stubFactory{})
	// The handler outlives the test once the connection is hijacked, so it
	// cannot log through the test logger.
	state.Hub = NewFrameHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(state.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/frame/stream?clientId=viewer-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()
	waitForClients(t, state.Hub, 1)

	frame := &models.AnnotatedFrame{Image: image.NewRGBA(image.Rect(0, 0, 32, 24)), Seq: 9}
	test.That(t, state.Hub.Publish(frame), test.ShouldBeNil)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, payload, err := conn.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kind, test.ShouldEqual, websocket.BinaryMessage)

	img, err := jpeg.Decode(bytes.NewReader(payload))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 32, 24))

	state.Hub.Close()
	test.That(t, state.Hub.Clients(), test.ShouldEqual, 0)
	_, _, err = conn.ReadMessage()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFrameStreamWithoutSource(t *testing.T) {
	state := newTestState(t, &stubFactory{})

	rec := httptest.NewRecorder()
	state.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame/stream", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
}

func TestPublishWithoutClients(t *testing.T) {
	hub := NewFrameHub(zaptest.NewLogger(t).Sugar())
	// No viewers means nothing is encoded, even for a frame with no image.
	test.That(t, hub.Publish(&models.AnnotatedFrame{}), test.ShouldBeNil)
}

func TestFrameStreamSharedClientID(t *testing.T) {
	state := newTestState(t, &stubFactory{})
	state.Hub = NewFrameHub(zap.NewNop().Sugar())
	srv := httptest.NewServer(state.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/frame/stream?clientId=same"
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	waitForClients(t, state.Hub, 1)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer second.Close()
	waitForClients(t, state.Hub, 2)

	first.Close()
	waitForClients(t, state.Hub, 1)

	frame := &models.AnnotatedFrame{Image: image.NewRGBA(image.Rect(0, 0, 16, 16)), Seq: 3}
	test.That(t, state.Hub.Publish(frame), test.ShouldBeNil)

	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, payload, err := second.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kind, test.ShouldEqual, websocket.BinaryMessage)
	test.That(t, len(payload), test.ShouldBeGreaterThan, 0)
}
