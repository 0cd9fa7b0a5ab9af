// Package httpx holds the JSON response helpers shared by the API handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diewo77/go-assistance/i18n"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// StatusCoder is implemented by errors that know their HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Coder is implemented by errors that carry a stable, translatable code.
type Coder interface {
	Code() string
}

// Detailer is implemented by errors that carry structured details
// (field violations, amounts).
type Detailer interface {
	ErrorDetails() any
}

// MaxBodyBytes bounds request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	body := []byte("null")
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			http.Error(w, `{"error":"encode_error"}`, http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// JSONError writes an error envelope with code translated into the request
// language as message.
func JSONError(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	JSON(w, status, ErrorResponse{
		Error:   code,
		Message: i18n.T(i18n.LangFromContext(r.Context()), code),
		Details: details,
	})
}

// Error maps err to a status code and writes the error envelope. Errors that
// do not implement StatusCoder become 500 internal_error without leaking
// their text.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	var details any

	var sc StatusCoder
	if errors.As(err, &sc) {
		status = sc.HTTPStatus()
		var c Coder
		if errors.As(err, &c) {
			code = c.Code()
		}
		var d Detailer
		if errors.As(err, &d) {
			details = d.ErrorDetails()
		}
	}
	JSONError(w, r, status, code, details)
}

// Message writes {"message": <translated code>, key: entity}.
func Message(w http.ResponseWriter, r *http.Request, status int, code, key string, entity any) {
	body := map[string]any{"message": i18n.T(i18n.LangFromContext(r.Context()), code)}
	if key != "" {
		body[key] = entity
	}
	JSON(w, status, body)
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields and
// trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("decode body: trailing data")
	}
	return nil
}
