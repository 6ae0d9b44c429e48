package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNoState          = errors.New("no persisted scrape state")
	ErrNoIdentity       = errors.New("could not detect target identity")
	ErrDeclined         = errors.New("operator declined ownership confirmation")
	ErrChannelInvalid   = errors.New("host channel is no longer valid")
	ErrStepRegression   = errors.New("scrape step cannot move backwards")
	ErrNoResults        = errors.New("no results available")
)

// NavigationError wraps failures while moving the page to a required view.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation error for %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// StoreError wraps errors from a durable state backend.
type StoreError struct {
	Backend string
	Key     string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error (%s, key=%q): %v", e.Backend, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CollectError wraps failures during a scroll-and-collect pass.
type CollectError struct {
	Kind string
	Err  error
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("collect error (%s): %v", e.Kind, e.Err)
}

func (e *CollectError) Unwrap() error { return e.Err }
