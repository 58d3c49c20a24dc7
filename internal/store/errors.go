package store

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrOwnerMissing = errors.New("owner id is required")
)
