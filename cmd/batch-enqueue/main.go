package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/resumeflow/internal/models"
	"github.com/Lllllllleong/resumeflow/internal/services"
)

const submitterHeader = "X-Submitter-Id"

var (
	gatewayInstance *services.Gateway
	once            sync.Once
	initErr         error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleEnqueue" is the entry point name we'll see in GCP.
	functions.HTTP("HandleEnqueue", handleEnqueue)
}

// main is required by the Go Functions Framework.
func main() {}

// handleEnqueue accepts {"filenames": [...], "submitterId": "..."} and
// queues one entry per filename.
func handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		gatewayInstance, initErr = services.NewGatewayFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Gateway initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	serveEnqueue(w, r, gatewayInstance)
}

func serveEnqueue(w http.ResponseWriter, r *http.Request, gateway *services.Gateway) {
	var req models.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		writeError(w, http.StatusBadRequest, models.CodeInvalidRequest, "could not parse JSON")
		return
	}
	if req.SubmitterID == "" {
		req.SubmitterID = r.Header.Get(submitterHeader)
	}

	res, err := gateway.Enqueue(r.Context(), req.Filenames, req.SubmitterID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, models.CodeInvalidRequest, err.Error())
			return
		}
		// The specific error is already logged inside Enqueue.
		writeError(w, http.StatusInternalServerError, models.CodeInternal, "failed to enqueue batch")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorCode": code,
		"message":   message,
	})
}
