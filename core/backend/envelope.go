package backend

import (
	"encoding/json"
	"fmt"
)

// Envelope codes.
const (
	CodeOK    = "00"
	CodeError = "99"
)

// Envelope wraps every REST response.
type Envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// AppError is an application level failure reported inside a successful
// transport response.
type AppError struct {
	Code    string
	Message string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error code %s", e.Code)
	}
	return fmt.Sprintf("backend error code %s: %s", e.Code, e.Message)
}

// Decode checks the envelope code and unmarshals the result into out. A null
// result leaves out untouched; out may be nil for calls without a result.
func (e Envelope) Decode(out any) error {
	if e.Code != CodeOK {
		return &AppError{Code: e.Code, Message: e.Message}
	}
	if out == nil || len(e.Result) == 0 || string(e.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// OK wraps a result in a success envelope.
func OK(result any) (Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Code: CodeOK, Message: "success", Result: raw}, nil
}

// Fail builds an error envelope.
func Fail(msg string) Envelope {
	return Envelope{Code: CodeError, Message: msg, Result: json.RawMessage("null")}
}
