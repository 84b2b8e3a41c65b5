package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue: closed")

// Memory is an in-process Queue backed by a buffered channel. Messages are
// encoded and decoded like on the broker so the wire format stays exercised.
type Memory struct {
	mu     sync.RWMutex
	ch     chan []byte
	closed bool
	done   chan struct{}
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Memory{ch: make(chan []byte, buffer), done: make(chan struct{})}
}

func (q *Memory) Publish(ctx context.Context, m JobMessage) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	return q.push(ctx, body)
}

func (q *Memory) push(ctx context.Context, body []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of messages waiting.
func (q *Memory) Len() int { return len(q.ch) }

func (q *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			var body []byte
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case body = <-q.ch:
			}
			m, err := Decode(body)
			if err != nil {
				continue
			}
			b := body
			d := Delivery{
				Message: m,
				ack:     func() error { return nil },
				nack: func(requeue bool) error {
					if !requeue {
						return nil
					}
					return q.push(context.Background(), b)
				},
			}
			select {
			case out <- d:
			case <-ctx.Done():
				// hand the message back for the next consumer
				select {
				case q.ch <- b:
				default:
				}
				return
			}
		}
	}()
	return out, nil
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
