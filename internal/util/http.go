package util

import (
	"encoding/json"
	"net/http"
)

type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, msg, reqID string) {
	WriteJSON(w, status, APIError{Code: code, Message: msg, RequestID: reqID})
}

// WriteFieldErrors reports form validation failures keyed by field name.
func WriteFieldErrors(w http.ResponseWriter, fields map[string]string, reqID string) {
	WriteJSON(w, http.StatusUnprocessableEntity, APIError{
		Code:      "validation_failed",
		Message:   "some fields are invalid",
		Fields:    fields,
		RequestID: reqID,
	})
}
