package detections

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Tutortoise/frame-pipeline/models"
)

func TestRemoteEngineRoundTrip(t *testing.T) {
	var got models.InputTensor
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metrics":
			w.WriteHeader(http.StatusOK)
		case "/infer":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(threeDetections())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	engine := NewRemoteEngine(srv.URL+"/", time.Second)
	defer engine.Close()
	test.That(t, engine.Ping(context.Background()), test.ShouldBeNil)

	tensor := &models.InputTensor{Width: 2, Height: 1, Channels: 3, Data: []uint8{1, 2, 3, 4, 5, 6}}
	det, err := engine.Infer(context.Background(), tensor)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det, test.ShouldResemble, threeDetections())
	test.That(t, got.Data, test.ShouldResemble, tensor.Data)
	test.That(t, got.Width, test.ShouldEqual, 2)
}

func TestRemoteEngineFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	engine := NewRemoteEngine(srv.URL, time.Second)
	err := engine.Ping(context.Background())
	test.That(t, IsFatal(err), test.ShouldBeTrue)

	_, err = engine.Infer(context.Background(), &models.InputTensor{})
	var ie *InferenceError
	test.That(t, errors.As(err, &ie), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model not loaded")
	test.That(t, errors.Is(err, ErrInvalidTensor), test.ShouldBeFalse)

	srv.Close()
	err = engine.Ping(context.Background())
	test.That(t, IsFatal(err), test.ShouldBeTrue)
}

func TestRemoteEngineRejectedTensor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_tensor", http.StatusBadRequest)
	}))
	defer srv.Close()

	engine := NewRemoteEngine(srv.URL, time.Second)
	_, err := engine.Infer(context.Background(), &models.InputTensor{})
	test.That(t, errors.Is(err, ErrInvalidTensor), test.ShouldBeTrue)
	test.That(t, IsFatal(err), test.ShouldBeFalse)
}
