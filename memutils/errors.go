package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfCapacity is returned when a fixed-capacity table has no free slot left
var ErrOutOfCapacity error = errors.New("no free slot left in a fixed-capacity table")

// ErrStagingTooLarge is returned when a staging push can never fit in the staging ring
var ErrStagingTooLarge error = errors.New("data is larger than the staging ring")

// ErrDestroyed is returned when an operation targets a resource that has already been destroyed
var ErrDestroyed error = errors.New("resource has already been destroyed")
