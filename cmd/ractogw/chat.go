package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ractogw/gateway/auth"
	"github.com/ractogw/gateway/dispatch"
	"github.com/ractogw/gateway/dispatcherr"
)

// chatHandler handles POST /v1/chat: the non-streaming dispatch path.
func chatHandler(engine *dispatch.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, _ := auth.AccountFromContext(r.Context())

		var req dispatch.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGatewayError(w, dispatcherr.BadRequest("invalid JSON body: "+err.Error()))
			return
		}

		result, err := engine.Dispatch(r.Context(), accountID, req)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

// chatStreamHandler handles POST /v1/chat/stream: the SSE dispatch path.
func chatStreamHandler(engine *dispatch.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, _ := auth.AccountFromContext(r.Context())

		var req dispatch.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGatewayError(w, dispatcherr.BadRequest("invalid JSON body: "+err.Error()))
			return
		}

		events, err := engine.Stream(r.Context(), accountID, req)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeSSE(w, events)
	}
}

// writeSSE streams dispatch.Events to the response writer.
func writeSSE(w http.ResponseWriter, events <-chan dispatch.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		switch {
		case ev.Comment != "":
			_, _ = fmt.Fprintf(w, ": %s\n\n", ev.Comment)
		case ev.Name != "":
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
		default:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", ev.Data)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// writeGatewayError writes a *dispatcherr.Error as a JSON error body with
// the HTTP status matching its kind.
func writeGatewayError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	if de, ok := dispatcherr.As(err); ok {
		message = de.Message
		switch de.Kind {
		case dispatcherr.KindBadRequest:
			status = http.StatusBadRequest
		case dispatcherr.KindConfiguration:
			status = http.StatusInternalServerError
		case dispatcherr.KindUpstream:
			status = http.StatusBadGateway
		case dispatcherr.KindInternal:
			status = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}
