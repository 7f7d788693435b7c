package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/apperr"
)

// problemTypeBase namespaces the RFC 7807 type URI per error kind.
const problemTypeBase = "https://around-me.dev/problems/"

// Problem is an RFC 7807 error document. Fatal request errors are the only
// bodies this API returns with a non-2xx status; recoverable failures ride
// inside the debug block of a normal response.
type Problem struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// problemFrom classifies a pipeline error into a problem document.
func problemFrom(err error) Problem {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return Problem{
			Type:   problemTypeBase + string(apperr.KindInternal),
			Title:  "Internal Error",
			Status: http.StatusInternalServerError,
			Detail: err.Error(),
		}
	}

	p := Problem{
		Type:       problemTypeBase + string(appErr.Kind),
		Detail:     appErr.Message,
		Extensions: appErr.Extensions,
	}
	switch appErr.Kind {
	case apperr.KindValidation:
		p.Title = "Invalid Request"
		p.Status = http.StatusBadRequest
	case apperr.KindParse:
		p.Title = "Unprocessable Intent"
		p.Status = http.StatusUnprocessableEntity
	case apperr.KindProvider:
		p.Title = "Upstream Providers Failed"
		p.Status = http.StatusBadGateway
	default:
		p.Title = "Internal Error"
		p.Status = http.StatusInternalServerError
	}
	return p
}

func writeProblem(w http.ResponseWriter, traceID string, p Problem) {
	p.TraceID = traceID
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		zap.L().Warn("problem encode failed", zap.Error(err))
	}
}
