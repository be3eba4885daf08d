// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import "github.com/Workiva/go-datastructures/queue"

// mailbox is the controller's inbound FIFO. It is unbounded so that
// the controller itself can safely self-post (the load_release step)
// and background tasks never block on a busy controller; ordering per
// sender is arrival order, which is what gives single-labor event
// sequences their processing order guarantee.
type mailbox struct {
	queue *queue.Queue
}

func newMailbox() *mailbox {
	return &mailbox{queue: queue.New(64)}
}

// put enqueues an event. Events put after dispose are silently
// dropped — that only happens during shutdown, when the controller no
// longer reads.
func (m *mailbox) put(event any) {
	// Put only fails on a disposed queue.
	_ = m.queue.Put(event)
}

// get blocks for the next event. ok is false once the mailbox is
// disposed and drained.
func (m *mailbox) get() (any, bool) {
	items, err := m.queue.Get(1)
	if err != nil || len(items) == 0 {
		return nil, false
	}
	return items[0], true
}

// dispose unblocks get and drops subsequent puts.
func (m *mailbox) dispose() {
	m.queue.Dispose()
}
