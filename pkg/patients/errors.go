package patients

import (
	"errors"
)

var (
	ErrNotFound      = errors.New("patient not found")
	ErrPatientExists = errors.New("patient already exists")

	errAadhaarRequired = errors.New("aadhaar required")
	errAadhaarInvalid  = errors.New("aadhaar contains reserved characters")
	errAgeInvalid      = errors.New("age must not be negative")
	errGenderInvalid   = errors.New("gender must be Male, Female or Other")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
