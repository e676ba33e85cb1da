package ocpi

import "time"

// OCPI body status codes.
const (
	StatusSuccess              = 1000
	StatusClientError          = 2000
	StatusInvalidParameters    = 2001
	StatusNotEnoughInformation = 2002
	StatusUnknownLocation      = 2003
	StatusUnknownToken         = 2004
	StatusServerError          = 3000
	StatusUnableToUseClient    = 3001
	StatusUnsupportedVersion   = 3002
	StatusNoMatchingEndpoints  = 3003
)

// Response is the envelope wrapping every OCPI payload.
type Response[T any] struct {
	Data          T         `json:"data,omitempty"`
	StatusCode    int       `json:"status_code"`
	StatusMessage string    `json:"status_message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func Success[T any](data T, now time.Time) Response[T] {
	return Response[T]{
		Data:          data,
		StatusCode:    StatusSuccess,
		StatusMessage: "Success",
		Timestamp:     now.UTC(),
	}
}

func Failure(code int, message string, now time.Time) Response[any] {
	return Response[any]{
		StatusCode:    code,
		StatusMessage: message,
		Timestamp:     now.UTC(),
	}
}
