package snapshot

import (
	"context"
	"fmt"
	"time"
)

// Result is the view of one cache entry at read time.
type Result struct {
	Key       Key
	Value     any
	HasValue  bool
	IsStale   bool
	IsLoading bool
	IsError   bool
	Err       error
	UpdatedAt time.Time
}

// Fresh reports whether the result holds a value that needs no refetch.
func (r Result) Fresh() bool { return r.HasValue && !r.IsStale && !r.IsError }

// As extracts the cached value with its concrete type.
func As[T any](r Result) (T, bool) {
	var zero T
	if !r.HasValue {
		return zero, false
	}
	v, ok := r.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// LoadAs loads k through s and returns its value as T.
func LoadAs[T any](ctx context.Context, s *Store, k Key, opts ...FetchOption) (T, error) {
	var zero T
	r, err := s.Load(ctx, k, opts...)
	if err != nil {
		return zero, err
	}
	v, ok := As[T](r)
	if !ok {
		return zero, fmt.Errorf("snapshot: %s holds %T", k, r.Value)
	}
	return v, nil
}
