// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "errors"

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient marks err as a transport or protocol level failure that is
// worth retrying with backoff. Unmarked errors are treated as unexpected.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
