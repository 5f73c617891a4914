package chat

import "github.com/tabletale/tabletale/pkg/models"

// node is one entry of the doubly-linked message index. head and tail
// are dummy sentinels and are never exposed to callers.
type node struct {
	msg  models.MessageOut
	prev *node
	next *node
}

// messageIndex keeps the chat's messages in insertion (= id) order with
// O(1) lookup by id. It mirrors the database rows for one chat.
type messageIndex struct {
	head *node
	tail *node
	byID map[int64]*node
	size int
}

func newMessageIndex() *messageIndex {
	h := &node{}
	t := &node{}
	h.next = t
	t.prev = h
	return &messageIndex{head: h, tail: t, byID: make(map[int64]*node)}
}

func (x *messageIndex) len() int { return x.size }

// append links a message before the tail sentinel. Messages arrive in id
// order, so appending preserves the database ORDER BY id.
func (x *messageIndex) append(msg models.MessageOut) *node {
	n := &node{msg: msg, prev: x.tail.prev, next: x.tail}
	x.tail.prev.next = n
	x.tail.prev = n
	x.byID[msg.ID] = n
	x.size++
	return n
}

func (x *messageIndex) get(id int64) (*node, bool) {
	n, ok := x.byID[id]
	return n, ok
}

// remove unlinks a node. The node's own pointers are cleared so a stale
// reference cannot walk back into the list.
func (x *messageIndex) remove(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	delete(x.byID, n.msg.ID)
	x.size--
}

// neighbors returns the ids of the real nodes adjacent to n, nil at
// either end of the list.
func (x *messageIndex) neighbors(n *node) (prev, next *int64) {
	if n.prev != x.head && n.prev != nil {
		id := n.prev.msg.ID
		prev = &id
	}
	if n.next != x.tail && n.next != nil {
		id := n.next.msg.ID
		next = &id
	}
	return prev, next
}

// walkForward collects up to limit messages strictly after the given id
// (or from the first real node when after is nil). previousID/nextID are
// the boundary ids just outside the returned slice, nil at the ends.
func (x *messageIndex) walkForward(after *int64, limit int) (msgs []models.MessageOut, previousID, nextID *int64, ok bool) {
	start := x.head.next
	if after != nil {
		n, found := x.byID[*after]
		if !found {
			return nil, nil, nil, false
		}
		start = n.next
	}

	msgs = make([]models.MessageOut, 0, limit)
	n := start
	for n != x.tail && len(msgs) < limit {
		msgs = append(msgs, n.msg)
		n = n.next
	}

	if start.prev != x.head {
		id := start.prev.msg.ID
		previousID = &id
	}
	if n != x.tail {
		id := n.msg.ID
		nextID = &id
	}
	return msgs, previousID, nextID, true
}

// walkBackward collects up to limit messages ending at the given id
// inclusive (or at the last real node when before is nil), returned in
// ascending order.
func (x *messageIndex) walkBackward(before *int64, limit int) (msgs []models.MessageOut, previousID, nextID *int64, ok bool) {
	start := x.tail.prev
	if before != nil {
		n, found := x.byID[*before]
		if !found {
			return nil, nil, nil, false
		}
		start = n
	}

	collected := make([]models.MessageOut, 0, limit)
	n := start
	for n != x.head && len(collected) < limit {
		collected = append(collected, n.msg)
		n = n.prev
	}

	// Reverse into ascending id order.
	msgs = make([]models.MessageOut, 0, len(collected))
	for i := len(collected) - 1; i >= 0; i-- {
		msgs = append(msgs, collected[i])
	}

	if n != x.head && len(collected) > 0 {
		id := n.msg.ID
		previousID = &id
	}
	if start != x.head && start.next != x.tail && len(collected) > 0 {
		id := start.next.msg.ID
		nextID = &id
	}
	return msgs, previousID, nextID, true
}
