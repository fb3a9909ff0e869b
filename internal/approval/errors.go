/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package approval

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError is returned before any state is mutated when the input
// cannot produce a valid request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StaleRequestError is returned when operating on a request that can no
// longer change.
type StaleRequestError struct {
	TxID   string
	Reason string
}

func (e *StaleRequestError) Error() string {
	return fmt.Sprintf("approval request %s is %s", e.TxID, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsStale(err error) bool {
	var s *StaleRequestError
	return errors.As(err, &s)
}
