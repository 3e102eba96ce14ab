package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/vkgal/internal/bitmap"
	"github.com/vkngwrapper/vkgal/internal/utils"
	"github.com/vkngwrapper/vkgal/memutils"
)

// IdList is a fixed-capacity table that hands out small integer ids for values. Ids start at 1 so
// that 0 can stand for "no value", and freed ids are reused lowest first.
type IdList[T any] struct {
	mutex    utils.OptionalRWMutex
	name     string
	values   []T
	occupied bitmap.BitMap
	count    int
}

// NewIdList creates a table for use from a single goroutine
func NewIdList[T any](name string, capacity int) *IdList[T] {
	return &IdList[T]{
		name:     name,
		values:   make([]T, capacity),
		occupied: bitmap.New(capacity),
	}
}

// NewConcurrentIdList creates a table that supports concurrent lookups against a single writer
func NewConcurrentIdList[T any](name string, capacity int) *IdList[T] {
	list := NewIdList[T](name, capacity)
	list.mutex.UseMutex = true
	return list
}

// Add stores value and returns its id. A full table returns an error wrapping memutils.ErrOutOfCapacity.
func (l *IdList[T]) Add(value T) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	index := l.occupied.FindFirstUnset()
	if index < 0 {
		return 0, errors.Wrapf(memutils.ErrOutOfCapacity, "%s table is full at %d entries", l.name, len(l.values))
	}

	l.occupied.Set(index)
	l.values[index] = value
	l.count++
	return index + 1, nil
}

// Remove frees the id and returns the value it held
func (l *IdList[T]) Remove(id int) (T, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var zero T
	index := id - 1
	if index < 0 || index >= len(l.values) || !l.occupied.IsSet(index) {
		return zero, false
	}

	value := l.values[index]
	l.values[index] = zero
	l.occupied.Clear(index)
	l.count--
	return value, true
}

func (l *IdList[T]) TryGetValue(id int) (T, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var zero T
	index := id - 1
	if index < 0 || index >= len(l.values) || !l.occupied.IsSet(index) {
		return zero, false
	}

	return l.values[index], true
}

func (l *IdList[T]) Count() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count
}

func (l *IdList[T]) Capacity() int {
	return len(l.values)
}

// ForEach calls cb with every stored id and value in id order
func (l *IdList[T]) ForEach(cb func(id int, value T)) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	l.occupied.ForEachRun(func(start, count int) {
		for index := start; index < start+count; index++ {
			cb(index+1, l.values[index])
		}
	})
}

// Clear removes every value
func (l *IdList[T]) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var zero T
	for i := range l.values {
		l.values[i] = zero
	}
	l.occupied.ClearAll()
	l.count = 0
}

func (l *IdList[T]) PrintJson(json jwriter.ObjectState) {
	json.Name("Name").String(l.name)
	json.Name("Capacity").Int(len(l.values))
	json.Name("Count").Int(l.Count())
}
