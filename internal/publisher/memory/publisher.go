// Package memory keeps published alert messages in memory so channel and
// emitter tests can assert on what would have gone to Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one captured publish.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records every publish. Setting Err makes subsequent publishes
// fail without being recorded.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes later publishes return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish records the message and returns a sequential message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
