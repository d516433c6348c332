// Package handlers provides HTTP request handlers for the netscope API.
// This file contains the response, request parsing and error mapping helpers
// shared by every handler.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/netscope/internal/api/middleware"
	"github.com/anstrom/netscope/internal/errors"
)

// DefaultMaxRequestSize caps request bodies when no limit is configured.
const DefaultMaxRequestSize = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Field     string    `json:"field,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

var validate = newValidator()

// newValidator reports request fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent, only log.
		slog.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}
	var cerr *errors.ConfigError
	if stderrors.As(err, &cerr) {
		response.Field = cerr.Field
	}
	writeJSON(w, r, statusCode, response)
}

// writeCodedError picks the status from the error's code.
func writeCodedError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err)
}

// statusForError maps an error code to a status. Request errors are 400;
// other fatal errors mean the host cannot serve the request at all.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeTargetInvalid, errors.CodeConfiguration:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeNetworkUnreachable:
		return http.StatusBadGateway
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	if errors.IsFatal(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// parseJSON decodes a size-limited body into dest and validates its struct
// tags. An empty body leaves dest untouched when allowEmpty is set.
func parseJSON(w http.ResponseWriter, r *http.Request, dest any, maxSize int64, allowEmpty bool) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return validateRequest(dest)
		}
		return errors.NewConfigError(errors.CodeValidation, "request body is empty")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case stderrors.As(err, &tooLarge):
			return errors.NewConfigError(errors.CodeValidation,
				fmt.Sprintf("request body too large (max %d bytes)", maxSize))
		case allowEmpty && stderrors.Is(err, io.EOF):
			return validateRequest(dest)
		default:
			return errors.WrapConfigError(errors.CodeValidation, "invalid JSON", err)
		}
	}
	return validateRequest(dest)
}

func validateRequest(dest any) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("failed %q validation", fe.Tag()), fe.Field(), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid request", err)
}

// extractRunID parses the {id} path parameter.
func extractRunID(r *http.Request) (uuid.UUID, error) {
	idStr, exists := mux.Vars(r)["id"]
	if !exists {
		return uuid.Nil, errors.NewConfigError(errors.CodeValidation, "id not provided")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid run id", "id", idStr)
	}
	return id, nil
}

// getQueryParamUint extracts an unsigned query parameter with a default value.
func getQueryParamUint(r *http.Request, key string, defaultValue uint64) (uint64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.NewConfigFieldError(errors.CodeValidation, "invalid "+key+" parameter", key, value)
	}
	return n, nil
}
