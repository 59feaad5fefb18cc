package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// NewRequestErr registers a 400 request error.
func NewRequestErr(service, sequence int, en, zh string) *Errno {
	return Register(New(MakeCode(service, CategoryRequest, sequence), http.StatusBadRequest, codes.InvalidArgument, en, zh))
}

// NewRateLimitErr registers a 429 error.
func NewRateLimitErr(service, sequence int, en, zh string) *Errno {
	return Register(New(MakeCode(service, CategoryRateLimit, sequence), http.StatusTooManyRequests, codes.ResourceExhausted, en, zh))
}

// NewTimeoutErr registers a 504 error.
func NewTimeoutErr(service, sequence int, en, zh string) *Errno {
	return Register(New(MakeCode(service, CategoryTimeout, sequence), http.StatusGatewayTimeout, codes.DeadlineExceeded, en, zh))
}

// NewInternalErr registers a 500 error.
func NewInternalErr(service, sequence int, en, zh string) *Errno {
	return Register(New(MakeCode(service, CategoryInternal, sequence), http.StatusInternalServerError, codes.Internal, en, zh))
}

// NewConfigErr registers a configuration error.
func NewConfigErr(service, sequence int, en, zh string) *Errno {
	return Register(New(MakeCode(service, CategoryConfig, sequence), http.StatusInternalServerError, codes.FailedPrecondition, en, zh))
}
