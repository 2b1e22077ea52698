package scraper

import (
	"fmt"
)

// FetchError reports a network failure, timeout or non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError describes markup that lacked an expected structure. Callers
// degrade it to default values; it never leaves the package boundary as a failure.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse " + e.What
	}
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed read or write of an on-disk cache or index file.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
