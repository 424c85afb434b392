// Package resource provides the remote side of a collection: a generic
// Source contract with REST, Firestore and Redis-fronted implementations.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/illmade-knight/go-crudcache/pkg/types"
)

// Source is a remote resource collection. Implementations hold no record
// state of their own and never retry.
type Source[R types.Record] interface {
	// Collection returns the collection name, e.g. "users".
	Collection() string
	// List fetches every record of the collection in remote order.
	List(ctx context.Context) ([]R, error)
	// Get fetches a single record. It fails with a *NotFoundError when the
	// remote reports the record absent.
	Get(ctx context.Context, id int) (R, error)
	// Create submits a new record. Any identifier on the input is ignored;
	// the returned record carries the identifier assigned by the remote.
	Create(ctx context.Context, record R) (R, error)
	// Update submits a full or partial record and returns it as echoed by the remote.
	Update(ctx context.Context, id int, record R) (R, error)
	// Delete requests deletion of a record.
	Delete(ctx context.Context, id int) error
	io.Closer
}

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("record not found")

// NetworkError reports a transport failure: no response was received.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports a response the client cannot accept: a non-2xx status
// or a body that does not decode.
type ServerError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: server error (status %d): %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: server error (status %d): %s", e.Op, e.URL, e.StatusCode, e.Body)
}

func (e *ServerError) Unwrap() error { return e.Err }

// NotFoundError reports that the remote has no record with the given id.
type NotFoundError struct {
	Collection string
	ID         int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%d: %v", e.Collection, e.ID, ErrNotFound)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// withID returns a copy of record with its "id" field set. Records are
// opaque to this package beyond their JSON shape, so the copy goes through
// a JSON object.
func withID[R types.Record](record R, id int) (R, error) {
	fields, err := toFields(record)
	if err != nil {
		return record, err
	}
	fields["id"] = json.RawMessage(fmt.Sprintf("%d", id))
	raw, err := json.Marshal(fields)
	if err != nil {
		return record, fmt.Errorf("failed to marshal record fields: %w", err)
	}
	var out R
	if err := json.Unmarshal(raw, &out); err != nil {
		return record, fmt.Errorf("failed to unmarshal record with id: %w", err)
	}
	return out, nil
}

// withoutID returns the JSON object of record minus its "id" field.
func withoutID[R types.Record](record R) (map[string]json.RawMessage, error) {
	fields, err := toFields(record)
	if err != nil {
		return nil, err
	}
	delete(fields, "id")
	return fields, nil
}

func toFields(record any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("record does not encode as a JSON object: %w", err)
	}
	return fields, nil
}
