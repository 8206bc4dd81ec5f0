package outbox

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSource struct {
	pending []Record
	sent    []int64
}

func (s *memSource) FetchPending(_ context.Context, limit int) ([]Record, error) {
	var out []Record
	for _, r := range s.pending {
		if r.SentAt == nil && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memSource) MarkSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	return nil
}

type sent struct {
	topic, key string
	headers    map[string]string
}

type fakePublisher struct {
	got    []sent
	failAt int // 1-based, 0 = never
}

func (p *fakePublisher) Send(_ context.Context, topic string, key, _ []byte, headers ...kafkago.Header) error {
	if p.failAt > 0 && len(p.got)+1 == p.failAt {
		return errors.New("broker down")
	}
	h := map[string]string{}
	for _, x := range headers {
		h[x.Key] = string(x.Value)
	}
	p.got = append(p.got, sent{topic: topic, key: string(key), headers: h})
	return nil
}

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{ID: int64(i + 1), EventID: "ev", EventType: "OrderStatusChanged", Topic: "checkout.order.status", Key: "ord-1"}
	}
	return out
}

func TestRelay_RunOnce(t *testing.T) {
	src := &memSource{pending: records(3)}
	pub := &fakePublisher{}
	var reported int
	r := &Relay{Source: src, Publisher: pub, Batch: 10, OnSent: func(n int) { reported = n }}

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, reported)
	assert.Equal(t, []int64{1, 2, 3}, src.sent)
	require.Len(t, pub.got, 3)
	assert.Equal(t, "checkout.order.status", pub.got[0].topic)
	assert.Equal(t, "ord-1", pub.got[0].key)
	assert.Equal(t, "2", pub.got[1].headers["x-outbox-id"])
	assert.Equal(t, "OrderStatusChanged", pub.got[1].headers["x-event-type"])
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	src := &memSource{pending: records(3)}
	pub := &fakePublisher{failAt: 2}
	r := &Relay{Source: src, Publisher: pub, Batch: 10}

	n, err := r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, src.sent, "later rows stay pending to keep order")

	pub.failAt = 0
	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, src.sent)
}
