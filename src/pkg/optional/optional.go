package optional

import (
	"github.com/Blackdeer1524/enginecore/src/pkg/assert"
)

type optionalTagT int

const (
	optionalNoneTag optionalTagT = iota
	optionalSomeTag
)

type Optional[T any] struct {
	tag   optionalTagT
	value T
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{
		tag:   optionalSomeTag,
		value: value,
	}
}

func None[T any]() Optional[T] {
	return Optional[T]{
		tag: optionalNoneTag,
	}
}

func (opt Optional[T]) Expect(msg string) T {
	assert.Assert(opt.tag != optionalNoneTag, msg)
	return opt.value
}

func (opt Optional[T]) Unwrap() T {
	assert.Assert(opt.tag != optionalNoneTag)
	return opt.value
}

// UnwrapOr returns the held value or def when there is none.
func (opt Optional[T]) UnwrapOr(def T) T {
	if opt.tag == optionalNoneTag {
		return def
	}

	return opt.value
}

// Get is the comma-ok form of Unwrap.
func (opt Optional[T]) Get() (T, bool) {
	return opt.value, opt.tag == optionalSomeTag
}

func (opt Optional[T]) IsNone() bool {
	return opt.tag == optionalNoneTag
}

func (opt Optional[T]) IsSome() bool {
	return opt.tag != optionalNoneTag
}
