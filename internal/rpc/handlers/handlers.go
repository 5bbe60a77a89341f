package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type Method string
type Path string

var (
	HTTP_GET    Method = "GET"
	HTTP_POST   Method = "POST"
	HTTP_PUT    Method = "PUT"
	HTTP_DELETE Method = "DELETE"
)

func CreateApiV1Path(path string) Path {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return Path("/api/v1/" + path)
}

// HTTPError carries the status a handler error should be answered with.
// Any other error is a 500.
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func BadRequest(err error) error {
	return &HTTPError{Status: http.StatusBadRequest, Err: err}
}

func NotFound(err error) error {
	return &HTTPError{Status: http.StatusNotFound, Err: err}
}

type MethodHandlers map[Path]map[Method]func(r *http.Request) (any, error)

func SetupHandlers(mux *http.ServeMux, handlers MethodHandlers) {
	for path, methodHandlers := range handlers {
		mux.HandleFunc(string(path), func(w http.ResponseWriter, r *http.Request) {
			method := r.Method
			handler, ok := methodHandlers[Method(method)]
			if !ok {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			resp, err := handler(r)
			if err != nil {
				status := http.StatusInternalServerError
				var httpErr *HTTPError
				if errors.As(err, &httpErr) {
					status = httpErr.Status
				}
				if status >= http.StatusInternalServerError {
					zap.L().Error("failed to handle request", zap.String("path", r.URL.Path), zap.Error(err))
				} else {
					zap.L().Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
				}
				http.Error(w, err.Error(), status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if resp != nil {
				err := json.NewEncoder(w).Encode(resp)
				if err != nil {
					zap.L().Error("failed to encode response", zap.Error(err))
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
		})
	}
}

// pathParts splits /api/v1/royalties/creator/0xabc into
// ["api", "v1", "royalties", "creator", "0xabc"].
func pathParts(r *http.Request) []string {
	return strings.Split(strings.Trim(r.URL.Path, "/"), "/")
}
