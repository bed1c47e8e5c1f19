package services

import (
	goa "goa.design/goa/v3/pkg"
)

// Error names understood by the HTTP layer
const (
	ErrNameNotFound     = "not_found"
	ErrNameBadRequest   = "bad_request"
	ErrNameUnauthorized = "unauthorized"
	ErrNameUnavailable  = "unavailable"
)

func notFound(format string, v ...interface{}) *goa.ServiceError {
	return goa.PermanentError(ErrNameNotFound, format, v...)
}

func badRequest(format string, v ...interface{}) *goa.ServiceError {
	return goa.PermanentError(ErrNameBadRequest, format, v...)
}

func unauthorized(format string, v ...interface{}) *goa.ServiceError {
	return goa.PermanentError(ErrNameUnauthorized, format, v...)
}

func unavailable(format string, v ...interface{}) *goa.ServiceError {
	return goa.TemporaryError(ErrNameUnavailable, format, v...)
}
