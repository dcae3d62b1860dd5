package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// Frame types understood by the map frontend.
const (
	FrameChunk = "chunk"
	FrameError = "error"
	FrameDone  = "done"
)

// Frame is one SSE or websocket message.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// frameOf converts a fragment. Error fragments carry the bare description;
// the frontend adds its own prefix.
func frameOf(f domain.Fragment) Frame {
	if f.IsError() {
		return Frame{Type: FrameError, Message: domain.Describe(f.Err)}
	}
	return Frame{Type: FrameChunk, Content: f.Text}
}

// frames yields every frame of stream, ending with an error frame if the
// drain failed and always with a done frame. emit returning false stops the
// stream.
func frames(c *gin.Context, stream *domain.StreamHandle, emit func(Frame) bool) {
	for f, err := range stream.All(c.Request.Context()) {
		if err != nil {
			if !emit(Frame{Type: FrameError, Message: domain.Describe(err)}) {
				return
			}
			break
		}
		if !emit(frameOf(f)) {
			return
		}
	}
	emit(Frame{Type: FrameDone})
}

// writeSSE relays stream as text/event-stream. A failed write closes the
// stream, which cancels the upstream read.
func writeSSE(c *gin.Context, stream *domain.StreamHandle) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	frames(c, stream, func(fr Frame) bool {
		data, err := json.Marshal(fr)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		w.Flush()
		return true
	})
}
