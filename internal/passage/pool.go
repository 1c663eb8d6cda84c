package passage

import "sync"

// Pool recycles passages between highlighting workers. A passage taken from
// the pool belongs to one goroutine until it is put back.
type Pool[T any] struct {
	pool sync.Pool
}

func NewPool[T any]() *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any { return New[T]() },
		},
	}
}

// Get returns a passage in the unset state.
func (p *Pool[T]) Get() *Passage[T] {
	return p.pool.Get().(*Passage[T])
}

// Put resets psg and returns it to the pool. psg must not be used afterwards.
func (p *Pool[T]) Put(psg *Passage[T]) {
	if psg == nil {
		return
	}
	psg.Reset()
	p.pool.Put(psg)
}
