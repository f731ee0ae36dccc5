// Package dto contains the JSON payloads of the HTTP API.
package dto

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
