package utils

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSONError replies with status and an {"error": message} body.
func JSONError(w http.ResponseWriter, status int, message string) {
	_ = JSONWrite(w, status, errorBody{Error: message})
}

// JSONWrite encodes v as the JSON response body. A zero status leaves the
// implicit 200 untouched.
func JSONWrite(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
