package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/roomhub/apiserver/types"
)

const maxBodyBytes = 1 << 20

type contextKey string

const contextSubjectKey contextKey = "sub"

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextSubjectKey, userID)
}

func userIDFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok {
		return "", errors.New("missing subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("invalid subject")
	}
	return subject, nil
}

// DataResponse wraps every successful payload.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorsResponse lists the structured errors of a failed request.
type ErrorsResponse struct {
	Errors []types.ValidationError `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, DataResponse{Data: data})
}

func writeErrors(w http.ResponseWriter, status int, errs ...types.ValidationError) {
	writeJSON(w, status, ErrorsResponse{Errors: errs})
}

func writeError(w http.ResponseWriter, status int, code types.ErrorCode, source, detail string) {
	writeErrors(w, status, types.NewValidationError(code, source, detail))
}

// writeInternalError never exposes the underlying cause.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, types.CodeInternalServerError, "", "")
}

// respond maps a service result onto the response. onNotFound decides how
// absence is reported for the endpoint.
func respond[T any](w http.ResponseWriter, r *http.Request, result types.Result[T], status int, onNotFound http.HandlerFunc) {
	switch {
	case result.Err != nil:
		writeInternalError(w)
	case len(result.ValidationErrors) > 0:
		writeErrors(w, http.StatusBadRequest, result.ValidationErrors...)
	case result.IsNotFound:
		onNotFound(w, r)
	default:
		writeData(w, status, result.Data)
	}
}

func notFound(status int, source, detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, status, types.CodeRelatedEntityNotFound, source, detail)
	}
}

// decodeJSON reads a bounded JSON body into dst. Type mismatches are
// reported against the offending field.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err == nil {
		return true
	}

	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		writeError(w, http.StatusBadRequest, types.CodeInvalidType, typeErr.Field, "")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, types.CodeIsRequired, "body", "")
	default:
		writeError(w, http.StatusBadRequest, types.CodeInvalidType, "body", "")
	}
	return false
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
