package session

import "judgehub/internal/judge/model"

type frame struct {
	end  bool
	body model.JudgeResult
}

type offerResult int

const (
	offerReady offerResult = iota
	offerBuffered
	offerDuplicate
	offerOverflow
)

// sequencer releases the numbered frames of one task strictly in order.
// Unnumbered frames pass straight through. A released frame stays pending
// until ack, so a frame that failed to apply is offered again on the next
// arrival and a resend of it is accepted.
type sequencer struct {
	expected int64
	pending  map[int64]frame
	limit    int
}

func newSequencer(limit int) *sequencer {
	if limit <= 0 {
		limit = 64
	}
	return &sequencer{expected: 1, pending: make(map[int64]frame), limit: limit}
}

// offer takes a frame and returns those now ready, in application order.
func (q *sequencer) offer(f frame) ([]frame, offerResult) {
	if f.body.Seq == nil {
		return []frame{f}, offerReady
	}
	seq := *f.body.Seq
	switch {
	case seq < q.expected:
		return nil, offerDuplicate
	case seq > q.expected:
		if _, ok := q.pending[seq]; ok {
			return nil, offerDuplicate
		}
		if len(q.pending) >= q.limit {
			return nil, offerOverflow
		}
		q.pending[seq] = f
		if _, ok := q.pending[q.expected]; !ok {
			return nil, offerBuffered
		}
	default:
		q.pending[seq] = f
	}
	return q.ready(), offerReady
}

func (q *sequencer) ready() []frame {
	var out []frame
	for seq := q.expected; ; seq++ {
		f, ok := q.pending[seq]
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

// ack marks f as applied. Unnumbered frames need no ack.
func (q *sequencer) ack(f frame) {
	if f.body.Seq == nil || *f.body.Seq != q.expected {
		return
	}
	delete(q.pending, q.expected)
	q.expected++
}
