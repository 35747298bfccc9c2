package engine

import (
	"github.com/tokex-io/bridge-go/hostledger"
)

// blockQueue is an unbounded FIFO between the host-listener thread and
// the processing loop: the host stream is never back-pressured, and
// blocks come out in the exact order they went in.
type blockQueue struct {
	in  chan *hostledger.Block
	out chan *hostledger.Block
}

func newBlockQueue() *blockQueue {
	q := &blockQueue{
		in:  make(chan *hostledger.Block),
		out: make(chan *hostledger.Block),
	}
	go q.pump()
	return q
}

func (q *blockQueue) pump() {
	var buf []*hostledger.Block
	for {
		if len(buf) == 0 {
			b, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, b)
			continue
		}
		select {
		case b, ok := <-q.in:
			if !ok {
				for _, b := range buf {
					q.out <- b
				}
				close(q.out)
				return
			}
			buf = append(buf, b)
		case q.out <- buf[0]:
			buf = buf[1:]
		}
	}
}

func (q *blockQueue) push(b *hostledger.Block) { q.in <- b }
func (q *blockQueue) close()                   { close(q.in) }
