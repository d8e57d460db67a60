package pocket

import "errors"

var (
	// Validation errors
	ErrMissingProfile = errors.New("profile is required")
	ErrMissingName    = errors.New("pocket name is required")
	ErrNameTooLong    = errors.New("pocket name exceeds 100 characters")
	ErrInvalidType    = errors.New("invalid pocket type")
	ErrMissingRef     = errors.New("external ref is required")

	// Repository errors
	ErrPocketNotFound  = errors.New("pocket not found")
	ErrMappingNotFound = errors.New("pot mapping not found")
	ErrDuplicateName   = errors.New("pocket name already exists for this profile")
	ErrRefInUse        = errors.New("external ref already mapped to another pocket")
	ErrWrongProfile    = errors.New("pocket belongs to another profile")
)
