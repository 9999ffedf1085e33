// handlers_stream.go - Log tail lifecycle and live buffer handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/session"
)

// StreamHandlerImpl implements the StreamHandler interface
type StreamHandlerImpl struct {
	stream StreamController
}

// NewStreamHandler creates a new stream handler instance
func NewStreamHandler(stream StreamController) StreamHandler {
	return &StreamHandlerImpl{stream: stream}
}

type startRequest struct {
	Target string `json:"target"`
}

// bufferResponse is the live buffer as sent to clients.
type bufferResponse struct {
	Status  models.SessionStatus `json:"status" msgpack:"status"`
	Chunks  []models.Chunk       `json:"chunks" msgpack:"chunks"`
	LastSeq uint64               `json:"lastSeq" msgpack:"lastSeq"`
	Evicted uint64               `json:"evicted" msgpack:"evicted"`
}

// HandleStart launches the log tail, replacing any running one
func (h *StreamHandlerImpl) HandleStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	result, err := h.stream.Start(c.Request().Context(), req.Target)
	if err != nil {
		if errors.Is(err, session.ErrLaunchFailed) {
			return NewLaunchFailedError(err)
		}
		return NewInternalError("failed to start stream", err)
	}
	return c.JSON(http.StatusOK, result)
}

// HandleStop stops the log tail. Stopping an idle stream is not an error.
func (h *StreamHandlerImpl) HandleStop(c echo.Context) error {
	return c.JSON(http.StatusOK, h.stream.Stop())
}

// HandleStatus returns the session state
func (h *StreamHandlerImpl) HandleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.stream.Info())
}

// HandleBuffer returns the live buffer, optionally only chunks after ?since=
func (h *StreamHandlerImpl) HandleBuffer(c echo.Context) error {
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, h.stream.Buffer().Text())
	}
	resp, err := h.bufferSince(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleBufferMsgpack returns the live buffer with msgpack encoding
func (h *StreamHandlerImpl) HandleBufferMsgpack(c echo.Context) error {
	resp, err := h.bufferSince(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *StreamHandlerImpl) bufferSince(c echo.Context) (*bufferResponse, error) {
	var since uint64
	if s := c.QueryParam("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, NewBadRequestError("invalid since parameter", err)
		}
		since = v
	}

	buf := h.stream.Buffer()
	chunks := buf.Since(since)
	_, _, evicted := buf.Stats()
	resp := &bufferResponse{
		Status:  h.stream.Status(),
		Chunks:  chunks,
		LastSeq: since,
		Evicted: evicted,
	}
	if n := len(chunks); n > 0 {
		resp.LastSeq = chunks[n-1].Seq
	}
	return resp, nil
}
