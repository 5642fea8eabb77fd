package quote

import "fmt"

// AuthenticationError means no valid credential could be obtained, or the
// pricing function rejected the refreshed credential as well.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "quote: session expired"
	}
	return fmt.Sprintf("quote: session expired: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx answer from the pricing function.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("quote: upstream error (%d): %s", e.Status, e.Message)
}

// InvalidResponseError means a critical field was missing or unusable.
type InvalidResponseError struct {
	Field string
}

func (e *InvalidResponseError) Error() string {
	if e.Field == "distance_km" {
		return "quote: distance could not be computed"
	}
	return fmt.Sprintf("quote: invalid response field %q", e.Field)
}
