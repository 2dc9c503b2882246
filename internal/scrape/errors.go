// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scrape

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates a scraper's preference record is missing, so
// its enable predicate cannot be evaluated. The scraper is treated as disabled.
var ErrConfiguration = errors.New("scraper preference not configured")

// ErrNoURL indicates a forced or enabled request carried no URL to fetch.
var ErrNoURL = errors.New("request has no URL")

// TransportError is a failed fetch for one source.
type TransportError struct {
	Source string
	URL    string
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: fetching %s: HTTP %d", e.Source, e.URL, e.Status)
	}
	return fmt.Sprintf("%s: fetching %s: %v", e.Source, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a response body that does not match the source schema.
// The draft is left untouched when it is returned.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parsing response: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CustomScriptError reports a user-authored fragment that failed to compile,
// failed to run, or returned a value of the wrong shape.
type CustomScriptError struct {
	Source string
	Stage  string
	Err    error
}

func (e *CustomScriptError) Error() string {
	return fmt.Sprintf("%s: custom %s fragment: %v", e.Source, e.Stage, e.Err)
}

func (e *CustomScriptError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a fetch failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsParse reports whether err is a schema mismatch.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsCustomScript reports whether err came from a user-authored fragment.
func IsCustomScript(err error) bool {
	var ce *CustomScriptError
	return errors.As(err, &ce)
}
