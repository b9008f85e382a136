package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
)

func setupTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		ServiceURL:          server.URL,
		Timeout:             5 * time.Second,
		ConfidenceThreshold: 0.5,
	}, logger.NewNop())

	return client, server
}

func inferenceHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req inferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(req.Image); err != nil {
			t.Errorf("image field is not valid base64: %v", err)
		}

		response := inferenceResponse{
			BoundingBoxes: []wireBox{
				{X1: 100, Y1: 200, X2: 300, Y2: 400, Confidence: 0.85, ClassName: "person"},
				{X1: 50, Y1: 60, X2: 90, Y2: 120, Confidence: 0.7, ClassName: "Hard-Hat"},
			},
			InferenceTimeMs: 45.2,
			FrameShape:      []int{480, 640},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func TestClient_Detect(t *testing.T) {
	client, _ := setupTestClient(t, inferenceHandler(t))

	result, err := client.Detect(context.Background(), []byte("fake jpeg data"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(result.Detections) != 2 {
		t.Fatalf("got %d detections, want 2", len(result.Detections))
	}
	if result.Detections[0].Class != ClassPerson {
		t.Errorf("first class = %q, want person", result.Detections[0].Class)
	}
	if result.Detections[1].Class != ClassHardHat {
		t.Errorf("second class = %q, want hard_hat", result.Detections[1].Class)
	}
	if result.FrameWidth != 640 || result.FrameHeight != 480 {
		t.Errorf("frame shape = %dx%d, want 640x480", result.FrameWidth, result.FrameHeight)
	}
	if result.InferenceTime != time.Duration(45.2*float64(time.Millisecond)) {
		t.Errorf("InferenceTime = %v", result.InferenceTime)
	}
}

func TestClient_DetectServerError(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	if _, err := client.Detect(context.Background(), []byte("data")); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestClient_DetectWithRetry(t *testing.T) {
	var calls int32
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		inferenceHandler(t)(w, r)
	})

	result, err := client.DetectWithRetry(context.Background(), []byte("data"), 3, time.Millisecond)
	if err != nil {
		t.Fatalf("DetectWithRetry failed: %v", err)
	}
	if len(result.Detections) != 2 {
		t.Errorf("got %d detections, want 2", len(result.Detections))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestClient_DetectWithRetryExhausted(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	if _, err := client.DetectWithRetry(context.Background(), []byte("data"), 2, time.Millisecond); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}

func TestClient_HealthCheck(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/ready" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}

func TestClassFromName(t *testing.T) {
	cases := []struct {
		name string
		want ObjectClass
	}{
		{"person", ClassPerson},
		{"Worker", ClassPerson},
		{"hardhat", ClassHardHat},
		{"Hard-Hat", ClassHardHat},
		{"safety vest", ClassSafetyVest},
		{"forklift", ClassForklift},
		{"Crane", ClassCrane},
		{"goggles", ClassSafetyGoggles},
		{"chemical_spill", ClassSpill},
		{"emergency_exit", ClassExit},
		{"bicycle", ClassUnknown},
		{"", ClassUnknown},
	}

	for _, tc := range cases {
		if got := ClassFromName(tc.name); got != tc.want {
			t.Errorf("ClassFromName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
