package detections

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/Tutortoise/frame-pipeline/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RemoteEngine forwards tensors to another process serving POST /infer.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
}

func NewRemoteEngine(baseURL string, timeout time.Duration) *RemoteEngine {
	return &RemoteEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *RemoteEngine) Infer(ctx context.Context, tensor *models.InputTensor) (*models.DetectionSet, error) {
	body, err := json.Marshal(tensor)
	if err != nil {
		return nil, &InferenceError{Message: "encode tensor", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, &InferenceError{Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &InferenceError{Message: "remote inference", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		ie := &InferenceError{Message: "remote inference: " + resp.Status + ": " + strings.TrimSpace(string(msg))}
		if resp.StatusCode == http.StatusBadRequest {
			ie.Cause = ErrInvalidTensor
		}
		return nil, ie
	}

	var det models.DetectionSet
	if err := json.NewDecoder(resp.Body).Decode(&det); err != nil {
		return nil, &InferenceError{Message: "decode detections", Cause: err}
	}
	return &det, nil
}

// Ping checks that the remote engine answers before frames are sent.
func (r *RemoteEngine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/metrics", nil)
	if err != nil {
		return &ResourceError{Message: "build request", Cause: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return &ResourceError{Message: "remote engine unreachable", Cause: err}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ResourceError{Message: "remote engine unhealthy: " + resp.Status}
	}
	return nil
}

func (r *RemoteEngine) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
