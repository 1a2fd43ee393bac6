package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicate indicates a unique constraint rejected the write, e.g. a
// replayed webhook event or a second hosting project for the same chat.
var ErrDuplicate = errors.New("repository: duplicate")
