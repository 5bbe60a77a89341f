package handlers

import (
	"context"
	"net/http"
)

type HeadReader interface {
	Head(ctx context.Context) (uint64, error)
}

type StatusResponse struct {
	Status string `json:"status"`
	Head   uint64 `json:"head,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusGetHandler reports OK when the chain head can be read. An unreachable
// node degrades the status without failing the request.
func StatusGetHandler(r *http.Request, chain HeadReader) (StatusResponse, error) {
	if chain == nil {
		return StatusResponse{Status: "OK"}, nil
	}
	head, err := chain.Head(r.Context())
	if err != nil {
		return StatusResponse{Status: "DEGRADED", Error: err.Error()}, nil
	}
	return StatusResponse{Status: "OK", Head: head}, nil
}
