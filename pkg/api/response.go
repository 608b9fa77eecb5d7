package api

import (
	"net/http"

	"github.com/marmos91/usbsas/pkg/apitypes"
)

// Response represents a standard API response wrapper.
//
// All API responses follow this structure for consistency:
//   - Status indicates the overall result ("healthy", "unhealthy", "ok", "error")
//   - Timestamp provides response time for debugging and caching
//   - Data contains the response payload (optional)
//   - Error contains error details when Status indicates failure (optional)
//
// Defined in pkg/apitypes to avoid an import cycle (pkg/api/handlers needs
// this type but pkg/api depends on pkg/session, which handlers also depends
// on).
type Response = apitypes.Response

// JSON writes a JSON response with the given status code.
//
// The response is written with Content-Type: application/json header.
// If encoding fails, an error response is written instead.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	apitypes.JSON(w, status, data)
}

// HealthyResponse creates a successful health check response.
func HealthyResponse(data interface{}) Response {
	return apitypes.HealthyResponse(data)
}

// UnhealthyResponse creates a failed health check response.
func UnhealthyResponse(errMsg string) Response {
	return apitypes.UnhealthyResponse(errMsg)
}

// OKResponse creates a generic successful response.
func OKResponse(data interface{}) Response {
	return apitypes.OKResponse(data)
}

// ErrorResponse creates a generic error response.
func ErrorResponse(errMsg string) Response {
	return apitypes.ErrorResponse(errMsg)
}
