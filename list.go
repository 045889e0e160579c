package vmem

// Ref identifies a node of a List. A Ref stays valid while its node is
// in the list, however much the list grows.
type Ref int32

// NilRef is the Ref of no node.
const NilRef Ref = -1

type listNode[T any] struct {
	prev, next Ref
	val        T
}

// List is a doubly linked list whose nodes live in an Array.
//
// Nodes link to each other by Ref rather than by address, so appending
// never invalidates a Ref held by the caller even when the node array
// moves. Pointers returned by At are invalidated by growth like any
// pointer into an Array. Removed nodes are recycled.
type List[T any] struct {
	nodes *Array[listNode[T]]
	head  Ref
	tail  Ref
	free  Ref
	n     int
}

// NewList creates an empty list whose nodes are allocated from a.
func NewList[T any](a Allocator) (*List[T], error) {
	nodes, err := NewArray[listNode[T]](0, a)
	if err != nil {
		return nil, err
	}
	return &List[T]{nodes: nodes, head: NilRef, tail: NilRef, free: NilRef}, nil
}

// Destroy returns the node storage to the allocator.
func (l *List[T]) Destroy() {
	l.nodes.Destroy()
	l.head, l.tail, l.free = NilRef, NilRef, NilRef
	l.n = 0
}

// Len returns the number of nodes in the list.
func (l *List[T]) Len() int { return l.n }

// First returns the head node, or NilRef.
func (l *List[T]) First() Ref { return l.head }

// Last returns the tail node, or NilRef.
func (l *List[T]) Last() Ref { return l.tail }

// Next returns the node after r, or NilRef.
func (l *List[T]) Next(r Ref) Ref { return l.node(r).next }

// Prev returns the node before r, or NilRef.
func (l *List[T]) Prev(r Ref) Ref { return l.node(r).prev }

// At returns a pointer to the value of node r.
func (l *List[T]) At(r Ref) *T { return &l.node(r).val }

// Append adds v at the tail.
func (l *List[T]) Append(v T) (Ref, error) {
	return l.InsertAfter(l.tail, v)
}

// Prepend adds v at the head.
func (l *List[T]) Prepend(v T) (Ref, error) {
	r, err := l.alloc(v)
	if err != nil {
		return NilRef, err
	}
	n := l.node(r)
	n.prev = NilRef
	n.next = l.head
	if l.head != NilRef {
		l.node(l.head).prev = r
	} else {
		l.tail = r
	}
	l.head = r
	return r, nil
}

// InsertAfter adds v after node at. InsertAfter(NilRef, v) on an empty
// list creates the first node; on a non-empty list it prepends.
func (l *List[T]) InsertAfter(at Ref, v T) (Ref, error) {
	if at == NilRef {
		return l.Prepend(v)
	}
	r, err := l.alloc(v)
	if err != nil {
		return NilRef, err
	}
	prev := l.node(at)
	n := l.node(r)
	n.prev = at
	n.next = prev.next
	prev.next = r
	if n.next != NilRef {
		l.node(n.next).prev = r
	} else {
		l.tail = r
	}
	return r, nil
}

// Remove unlinks node r and recycles its slot.
func (l *List[T]) Remove(r Ref) {
	n := l.node(r)
	if n.prev != NilRef {
		l.node(n.prev).next = n.next
	} else {
		l.head = n.next
	}
	if n.next != NilRef {
		l.node(n.next).prev = n.prev
	} else {
		l.tail = n.prev
	}
	var zero T
	n.val = zero
	n.prev = NilRef
	n.next = l.free
	l.free = r
	l.n--
}

// Each calls fn for every node from head to tail until fn returns false.
func (l *List[T]) Each(fn func(r Ref, v *T) bool) {
	for r := l.head; r != NilRef; r = l.node(r).next {
		if !fn(r, &l.node(r).val) {
			return
		}
	}
}

// alloc takes a slot from the free list or appends one.
func (l *List[T]) alloc(v T) (Ref, error) {
	var r Ref
	if l.free != NilRef {
		r = l.free
		l.free = l.node(r).next
	} else {
		if _, err := l.nodes.AppendZero(); err != nil {
			return NilRef, err
		}
		r = Ref(l.nodes.Len() - 1)
	}
	l.node(r).val = v
	l.n++
	return r, nil
}

func (l *List[T]) node(r Ref) *listNode[T] {
	if r < 0 {
		assertf("list: nil node reference")
	}
	return l.nodes.At(int(r))
}
