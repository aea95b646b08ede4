// Package api provides HTTP response utilities for ChatRelay.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorBody is written when a response value itself fails to marshal.
const fallbackErrorBody = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse writes response as JSON with the given status code.
// Marshaling happens before any header is written, so an encoding failure
// degrades to a canned 500 instead of a half-written body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = []byte(fallbackErrorBody)
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(jsonData); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", err)
	}
}
