package store

import "errors"

// Sentinel errors for common error conditions
var (
	ErrReceiptNotFound      = errors.New("receipt not found")
	ErrReceiptAlreadyExists = errors.New("receipt already exists")

	ErrConnectionNotFound      = errors.New("connection not found")
	ErrConnectionAlreadyExists = errors.New("connection already exists")

	ErrDestinationNotFound      = errors.New("destination not found")
	ErrDestinationAlreadyExists = errors.New("destination already exists")

	ErrExportJobNotFound      = errors.New("export job not found")
	ErrExportJobAlreadyExists = errors.New("export job already exists")

	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
)
