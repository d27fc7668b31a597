package constants

import (
	"github.com/go-playground/validator/v10"
)

type ContextKey string

const (
	AppKey       ContextKey = "app"
	LoggerKey    ContextKey = "logger"
	RequestStart ContextKey = "request_start"
	RequestIDKey ContextKey = "request_id"
)

var Validate = validator.New(validator.WithRequiredStructEnabled())
