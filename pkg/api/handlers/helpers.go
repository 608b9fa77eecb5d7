package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/marmos91/usbsas/pkg/apitypes"
)

// decodeJSONBody decodes a JSON request body into v. Returns true if
// successful; on failure it writes a 400 response and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, resp apitypes.Response) {
	apitypes.JSON(w, status, resp)
}

// BadRequest writes a 400 response with msg as the error detail.
func BadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apitypes.ErrorResponse(msg))
}

// NotFound writes a 404 response with msg as the error detail.
func NotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, apitypes.ErrorResponse(msg))
}

// Unauthorized writes a 401 response with msg as the error detail.
func Unauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, apitypes.ErrorResponse(msg))
}

// InternalServerError writes a 500 response with msg as the error detail,
// logged separately by the caller — this never leaks err's contents to
// the client; IPC errors map to a generic 500-equivalent.
func InternalServerError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, apitypes.ErrorResponse(msg))
}

// OK writes a 200 response wrapping data.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apitypes.OKResponse(data))
}
