package errx

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to the unified Error type with appropriate status codes.
func WrapRedis(err error) *Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return &Error{
			Err:      err,
			Code:     CodeNotFound,
			Status:   http.StatusNotFound,
			Severity: SeverityLow,
			Message:  RedisNotFoundMessage,
		}
	}

	return &Error{
		Err:      err,
		Code:     CodeDatabaseError,
		Status:   http.StatusBadGateway,
		Severity: SeverityHigh,
		Message:  RedisErrorMessage,
	}
}
