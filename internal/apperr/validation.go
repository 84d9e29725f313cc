package apperr

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
)

// FromValidation converts an ozzo-validation result into an ErrValidation
// carrying a single client-facing message. Field errors are reported in the
// given order; fields not listed follow alphabetically.
func FromValidation(err error, order ...string) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		var internal validation.InternalError
		if errors.As(err, &internal) {
			return internal
		}
		return New(ErrValidation, err.Error())
	}

	keys := make([]string, 0, len(fieldErrs))
	for k := range fieldErrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	keys = append(order, keys...)

	for _, k := range keys {
		if fe, ok := fieldErrs[k]; ok && fe != nil {
			return New(ErrValidation, fe.Error())
		}
	}
	return New(ErrValidation, "Invalid request.")
}
