package ipc

import "strings"

// responseDelimiter separates the fields of a service reply.
const responseDelimiter = "\nAdmApiDataRow="

// ApiResponse is a reply from the service.
type ApiResponse struct {
	StatusCode string
	Message    string
	Details    string
}

// DecodeResponse splits a raw reply into status code, message and details,
// in that order. Absent fields are left empty and fields past the third are
// dropped.
func DecodeResponse(raw string) ApiResponse {
	parts := strings.Split(raw, responseDelimiter)
	var resp ApiResponse
	resp.StatusCode = parts[0]
	if len(parts) > 1 {
		resp.Message = parts[1]
	}
	if len(parts) > 2 {
		resp.Details = parts[2]
	}
	return resp
}
