package errors

// Service codes (AA).
const (
	// ServiceCommon is for errors shared by all services.
	ServiceCommon = 0

	// ServiceInfraCache is for cache infrastructure.
	ServiceInfraCache = 11

	// ServiceRAG is for the question answering pipeline.
	ServiceRAG = 20
)

// Category codes (BB).
const (
	CategorySuccess   = 0
	CategoryRequest   = 1
	CategoryAuth      = 2
	CategoryResource  = 4
	CategoryRateLimit = 6
	CategoryInternal  = 7
	CategoryCache     = 9
	CategoryNetwork   = 10
	CategoryTimeout   = 11
	CategoryConfig    = 12
)

// MakeCode creates an error code from service, category, and sequence.
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	service = code / 100000
	category = (code % 100000) / 1000
	sequence = code % 1000
	return
}
