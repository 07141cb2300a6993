// Package channel provides an in-memory Go channel transport for taskflow.
// It is useful for tests and local development without a broker.
package channel

import (
	"context"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/taskflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// DefaultOutputBuffer is the per-subscription buffer of the in-memory pub/sub.
const DefaultOutputBuffer = 64

// SequenceKey is the metadata key carrying the per-topic publish sequence.
const SequenceKey = "_taskflow_channel_seq"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Messages are persisted so a
// worker subscribing after a producer still receives earlier tasks, and
// every subscription sees a topic in publish order.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(Config(), logger)
	ps := NewSequencedPubSub(pub, sub)
	return transport.Transport{
		Publisher:  ps,
		Subscriber: ps,
	}, nil
}

// Config returns the gochannel settings used by Build.
func Config() gochannel.Config {
	return gochannel.Config{
		OutputChannelBuffer: DefaultOutputBuffer,
		Persistent:          true,
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// SequencedPubSub restores publish order on top of gochannel, which hands
// each message (and each replayed persisted message) to its own goroutine.
// Publish stamps a per-topic sequence under SequenceKey; each subscription
// releases messages strictly in sequence order. Messages without a sequence
// are passed through as they arrive.
type SequencedPubSub struct {
	pub message.Publisher
	sub message.Subscriber

	mu  sync.Mutex
	seq map[string]uint64
}

// NewSequencedPubSub wraps pub and sub, which usually are one gochannel.
func NewSequencedPubSub(pub message.Publisher, sub message.Subscriber) *SequencedPubSub {
	return &SequencedPubSub{pub: pub, sub: sub, seq: make(map[string]uint64)}
}

// Publish stamps messages with the next sequence numbers of topic.
func (p *SequencedPubSub) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.seq[topic]
	next := last
	for _, msg := range messages {
		next++
		if msg.Metadata == nil {
			msg.Metadata = make(message.Metadata)
		}
		msg.Metadata.Set(SequenceKey, strconv.FormatUint(next, 10))
	}
	if err := p.pub.Publish(topic, messages...); err != nil {
		return err
	}
	p.seq[topic] = next
	return nil
}

// Subscribe returns messages of topic in publish order.
func (p *SequencedPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	in, err := p.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	go reorder(ctx, in, out)
	return out, nil
}

// Close closes the underlying pub/sub once.
func (p *SequencedPubSub) Close() error {
	err := p.sub.Close()
	if other, ok := p.sub.(message.Publisher); ok && other == p.pub {
		return err
	}
	if pubErr := p.pub.Close(); pubErr != nil && err == nil {
		err = pubErr
	}
	return err
}

// reorder forwards in to out, holding back messages until every earlier
// sequence number was forwarded. A sequence below the next expected one is a
// redelivery after a nack and is forwarded immediately.
func reorder(ctx context.Context, in <-chan *message.Message, out chan<- *message.Message) {
	defer close(out)

	next := uint64(1)
	pending := make(map[uint64]*message.Message)
	for msg := range in {
		seq, ok := sequence(msg)
		if !ok || seq < next {
			if !forward(ctx, out, msg) {
				return
			}
			continue
		}
		pending[seq] = msg
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if !forward(ctx, out, ready) {
				return
			}
			next++
		}
	}
}

func sequence(msg *message.Message) (uint64, bool) {
	raw := msg.Metadata.Get(SequenceKey)
	if raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || seq == 0 {
		return 0, false
	}
	return seq, true
}

func forward(ctx context.Context, out chan<- *message.Message, msg *message.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
