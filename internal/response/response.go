// Package response renders the success and {error:{code,message,details}}
// envelopes used across the OpenCat API surface (spec §6).
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"opencat/internal/apperr"
)

// ErrorBody is the wire shape of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Envelope wraps an error response: {error: {...}}.
type Envelope struct {
	Error *ErrorBody `json:"error,omitempty"`
}

// JSON sends data as a plain 200 JSON body (OpenCat does not wrap success
// payloads in an envelope; CustomerInfo, App, etc. are returned as-is).
func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends a 200 response.
func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data)
}

// Err renders err as the standard error envelope, aborting the gin context.
// Typed *apperr.Error values map to their declared HTTP status; anything
// else is surfaced as an opaque Internal error.
func Err(c *gin.Context, err error) {
	if ae, ok := apperr.As(err); ok {
		c.AbortWithStatusJSON(ae.HTTPStatus(), Envelope{Error: &ErrorBody{
			Code:    string(ae.Kind),
			Message: ae.Message,
			Details: ae.Details,
		}})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, Envelope{Error: &ErrorBody{
		Code:    string(apperr.KindInternal),
		Message: err.Error(),
	}})
}
