package race

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCacheMiss is reported when a fallback read found nothing.
	ErrCacheMiss = errors.New("no cached data")
	// ErrParseEmpty is reported when a fetched page yielded no records.
	ErrParseEmpty = errors.New("page parsed to zero records")
	// ErrQuotaExceeded is reported when a live fetch was refused.
	ErrQuotaExceeded = errors.New("daily scraping quota exhausted")
	// ErrNotFound is returned by stores when a lookup has no rows.
	ErrNotFound = errors.New("not found")
	// ErrInvalidVenue is returned for venue codes outside 01..24.
	ErrInvalidVenue = errors.New("invalid venue code")
	// ErrInvalidDate is returned for dates not in YYYYMMDD form.
	ErrInvalidDate = errors.New("invalid date")
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind string

const (
	// FetchTimeout means the request exceeded its deadline.
	FetchTimeout FetchErrorKind = "timeout"
	// FetchHTTPError means the server answered with a non-2xx status.
	FetchHTTPError FetchErrorKind = "http_error"
	// FetchNetworkError means the request failed before a response arrived.
	FetchNetworkError FetchErrorKind = "network_error"
)

// FetchError is the typed failure returned by Fetcher implementations.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchHTTPError:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewHTTPError builds a FetchError for an error status code.
func NewHTTPError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchHTTPError, URL: url, StatusCode: status, Err: err}
}

// ClassifyTransportError turns a transport failure into a FetchError.
func ClassifyTransportError(url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := FetchNetworkError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = FetchTimeout
	}
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// FallbackFor maps a collector failure onto the reason recorded in results.
func FallbackFor(err error) FallbackReason {
	var fe *FetchError
	switch {
	case err == nil:
		return FallbackNone
	case errors.Is(err, ErrQuotaExceeded):
		return FallbackQuotaExceeded
	case errors.Is(err, ErrParseEmpty):
		return FallbackParseEmpty
	case errors.As(err, &fe):
		switch fe.Kind {
		case FetchTimeout:
			return FallbackFetchTimeout
		case FetchHTTPError:
			return FallbackFetchHTTPError
		default:
			return FallbackFetchNetworkError
		}
	default:
		return FallbackParseError
	}
}
