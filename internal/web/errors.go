package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	errx "github.com/nomai-core/server/internal/core/error"
	logx "github.com/nomai-core/server/pkg/logger"
	"github.com/rs/zerolog"
)

// errorBody is the JSON shape every error response carries.
type errorBody struct {
	Success    bool          `json:"success"`
	ErrorCode  errx.Code     `json:"error_code"`
	ErrorType  string        `json:"error_type"`
	Message    string        `json:"message"`
	Details    []errx.Detail `json:"details,omitempty"`
	Severity   errx.Severity `json:"severity"`
	StatusCode int           `json:"status_code"`
	RetryAfter int           `json:"retry_after,omitempty"`
	Internal   string        `json:"internal,omitempty"`
}

// writeError is the single translator from typed failures to HTTP responses.
// It logs at a level matching the error's severity and never leaks internals
// in production.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errx.From(err)

	logEvent(e.Severity).
		Err(e.Err).
		Str("error_code", string(e.Code)).
		Int("status", e.Status).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(e.Message)

	body := errorBody{
		Success:    false,
		ErrorCode:  e.Code,
		ErrorType:  errorType(e.Code),
		Message:    e.Message,
		Details:    e.Details,
		Severity:   e.Severity,
		StatusCode: e.Status,
		RetryAfter: e.RetryAfter,
	}
	if !s.env.IsProduction() && e.Err != nil {
		body.Internal = e.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorType(code errx.Code) string {
	switch code {
	case errx.CodeInvalidInput, errx.CodeMissingRequiredField,
		errx.CodeInvalidImageFormat, errx.CodeImageTooLarge, errx.CodeInvalidBase64:
		return "Validation Error"
	case errx.CodeNoFoodDetected, errx.CodeConfidenceTooLow:
		return "Analysis Error"
	case errx.CodeModelAPIError, errx.CodeRateLimitExceeded, errx.CodeServiceTimeout:
		return "External Service Error"
	case errx.CodeConfigurationError, errx.CodeEnvVariableMissing, errx.CodeAPIKeyInvalid:
		return "Configuration Error"
	case errx.CodeNotFound:
		return "Not Found"
	default:
		return "Internal Error"
	}
}

func logEvent(sev errx.Severity) *zerolog.Event {
	switch sev {
	case errx.SeverityLow:
		return logx.Info()
	case errx.SeverityMedium:
		return logx.Warn()
	default:
		return logx.Error()
	}
}
