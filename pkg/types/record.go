// Package types defines the records held in the collection cache.
package types

import "errors"

// Record is a resource instance whose identifier is assigned by the remote
// system on creation and never changes afterwards.
type Record interface {
	GetID() int
}

// Validator is implemented by records that can check their own payload
// before it is sent to the remote.
type Validator interface {
	Validate() error
}

// ErrInvalidRecord is wrapped by every Validate failure.
var ErrInvalidRecord = errors.New("invalid record")

// Validate runs r.Validate when r implements Validator.
func Validate(r any) error {
	if v, ok := r.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// Collection names used by the front end.
const (
	UsersCollection = "users"
	PostsCollection = "posts"
)
