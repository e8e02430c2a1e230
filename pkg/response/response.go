package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every API endpoint answers with. Code 0 means
// success; non-zero codes mirror the HTTP status for machine handling.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError carries an HTTP status and message from the service layer up to
// the handler without the service importing gin.
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *AppError) Error() string {
	return e.Message
}

func newError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

// Error constructors covering the service-layer failure categories:
// validation, credentials, permission, missing entity, state conflict.

func NewBadRequest(msg string) *AppError   { return newError(http.StatusBadRequest, msg) }
func NewUnauthorized(msg string) *AppError { return newError(http.StatusUnauthorized, msg) }
func NewForbidden(msg string) *AppError    { return newError(http.StatusForbidden, msg) }
func NewNotFound(msg string) *AppError     { return newError(http.StatusNotFound, msg) }
func NewConflict(msg string) *AppError     { return newError(http.StatusConflict, msg) }
func NewServerError(msg string) *AppError  { return newError(http.StatusInternalServerError, msg) }

func write(c *gin.Context, status, code int, msg string, data interface{}) {
	c.JSON(status, Response{Code: code, Message: msg, Data: data})
}

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, 0, "ok", data)
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, 0, "created", data)
}

// Error translates a service error. An *AppError keeps its status and code;
// anything else is reported as a 500.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		write(c, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
		return
	}
	write(c, http.StatusInternalServerError, 500, err.Error(), nil)
}

// Shorthands for errors raised directly in handlers.

func BadRequest(c *gin.Context, msg string) {
	write(c, http.StatusBadRequest, 400, msg, nil)
}

func Unauthorized(c *gin.Context, msg string) {
	write(c, http.StatusUnauthorized, 401, msg, nil)
}

func Forbidden(c *gin.Context, msg string) {
	write(c, http.StatusForbidden, 403, msg, nil)
}

func NotFound(c *gin.Context, msg string) {
	write(c, http.StatusNotFound, 404, msg, nil)
}

func ServerError(c *gin.Context, msg string) {
	write(c, http.StatusInternalServerError, 500, msg, nil)
}
