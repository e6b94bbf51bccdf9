// Package sequence реализует буфер переупорядочивания для сообщений с порядковыми номерами.
//
// Буфер принимает элементы в любом порядке, выдает их строго последовательными
// сериями начиная с anchor+1 и сообщает о пропусках, которые нужно дозапросить.
package sequence

import (
	"cmp"
	"errors"
	"slices"
)

var (
	ErrAnchorConfig = errors.New("exactly one of fixed anchor or anchor provider must be set")
	ErrNoSeqFunc    = errors.New("seq function is required")
)

// GapFunc вызывается, когда наименьший ожидающий элемент не равен anchor+1.
// from - текущий якорь, to - наименьший номер в буфере.
type GapFunc[T any] func(from, to int64, pending []T)

type options[T any] struct {
	anchor      *int64
	provider    func() int64
	onGap       GapFunc[T]
	hasProvider bool
}

type Option[T any] func(*options[T])

// WithAnchor задает фиксированный начальный якорь. Буфер сам сдвигает его после выдачи.
func WithAnchor[T any](anchor int64) Option[T] {
	return func(o *options[T]) {
		o.anchor = &anchor
	}
}

// WithAnchorProvider задает функцию, возвращающую текущий якорь.
// Потребитель обязан сдвинуть якорь до следующей оценки буфера.
func WithAnchorProvider[T any](provider func() int64) Option[T] {
	return func(o *options[T]) {
		o.provider = provider
		o.hasProvider = true
	}
}

func WithGapHandler[T any](fn GapFunc[T]) Option[T] {
	return func(o *options[T]) {
		o.onGap = fn
	}
}

// Buffer не потокобезопасен: вызывающий код сериализует доступ сам.
type Buffer[T any] struct {
	seqOf    func(T) int64
	provider func() int64
	anchor   int64
	onGap    GapFunc[T]

	pending []T
}

func New[T any](seqOf func(T) int64, opts ...Option[T]) (*Buffer[T], error) {
	if seqOf == nil {
		return nil, ErrNoSeqFunc
	}

	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}

	if (o.anchor != nil) == o.hasProvider {
		return nil, ErrAnchorConfig
	}

	if o.hasProvider && o.provider == nil {
		return nil, ErrAnchorConfig
	}

	b := &Buffer[T]{
		seqOf:    seqOf,
		provider: o.provider,
		onGap:    o.onGap,
	}

	if o.anchor != nil {
		b.anchor = *o.anchor
	}

	return b, nil
}

// Push добавляет элемент и возвращает готовую к применению серию.
func (b *Buffer[T]) Push(item T) []T {
	b.Add(item)

	return b.Evaluate()
}

// Add кладет элемент в буфер без оценки.
func (b *Buffer[T]) Add(items ...T) {
	b.pending = append(b.pending, items...)
}

// Evaluate выдает наибольшую последовательную серию начиная с anchor+1.
func (b *Buffer[T]) Evaluate() []T {
	anchor := b.Anchor()

	kept := b.pending[:0]
	for _, item := range b.pending {
		if b.seqOf(item) > anchor {
			kept = append(kept, item)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept

	if len(b.pending) == 0 {
		return nil
	}

	slices.SortStableFunc(b.pending, func(x, y T) int {
		return cmp.Compare(b.seqOf(x), b.seqOf(y))
	})

	first := b.seqOf(b.pending[0])
	if first != anchor+1 {
		if b.onGap != nil {
			b.onGap(anchor, first, slices.Clone(b.pending))
		}

		return nil
	}

	var (
		run  []T
		last = anchor
		rest = b.pending[:0:0]
	)

	for i, item := range b.pending {
		seq := b.seqOf(item)

		switch {
		case seq == last:
			// дубликат уже выданного номера
			continue
		case seq == last+1:
			run = append(run, item)
			last = seq
		default:
			rest = append(rest, b.pending[i:]...)
		}

		if len(rest) > 0 {
			break
		}
	}

	b.pending = rest

	if b.provider == nil {
		b.anchor = last
	}

	return run
}

// Anchor возвращает текущий якорь.
func (b *Buffer[T]) Anchor() int64 {
	if b.provider != nil {
		return b.provider()
	}

	return b.anchor
}

// Len возвращает количество элементов, ожидающих выдачи.
func (b *Buffer[T]) Len() int {
	return len(b.pending)
}

// Pending возвращает копию ожидающих элементов.
func (b *Buffer[T]) Pending() []T {
	return slices.Clone(b.pending)
}

// Reset очищает буфер.
func (b *Buffer[T]) Reset() {
	b.pending = nil
}
