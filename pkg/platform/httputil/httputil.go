// Package httputil holds the JSON response helpers shared by every handler.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	dErrors "togoretrouve/pkg/domain-errors"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError renders err as {"error": code, "error_description": message}.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code, msg := dErrors.Public(err)
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.Description = msg
	}
	WriteJSON(w, dErrors.HTTPStatus(code), resp)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a bounded request body into dst. Unknown fields are rejected.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
