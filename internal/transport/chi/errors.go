package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

// ErrorCode is the machine-readable error class in responses.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeNotFound           ErrorCode = "not_found"
	CodeValidationFailed   ErrorCode = "validation_failed"
	CodeQuotaExceeded      ErrorCode = "embedding_quota_exceeded"
	CodeProviderError      ErrorCode = "embedding_provider_error"
	CodePersistenceFailure ErrorCode = "persistence_failure"
	CodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, CodeNotFound),
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
	sentinelHandler(domain.ErrEmptyContent, http.StatusBadRequest, CodeValidationFailed),
	sentinelHandler(domain.ErrInvalidSourceType, http.StatusBadRequest, CodeValidationFailed),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeValidationFailed),
	sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, CodeQuotaExceeded),
	sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeProviderError),
	sentinelHandler(domain.ErrPersistence, http.StatusServiceUnavailable, CodePersistenceFailure),
}

func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
