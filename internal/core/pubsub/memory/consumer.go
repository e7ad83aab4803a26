package memory

import (
	"context"
	"strings"

	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

type memoryConsumer struct {
	broker *broker
	opts   pubsub.ConsumerOptions
}

// Subscribe registers the consumer under its name and returns its channel.
// The channel closes when ctx ends or the engine closes.
func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	filter := c.filter()
	name := c.opts.ConsumerName
	if name == "" {
		name = filter
	}
	size := c.opts.ChannelBufSize
	if size <= 0 {
		size = pubsub.DefaultConsumerOptions().ChannelBufSize
	}

	ch, unsubscribe, err := c.broker.subscribe(ctx, name, filter, size)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, unsubscribe)
	return ch, nil
}

func (c *memoryConsumer) filter() string {
	switch {
	case c.opts.FilterSubject != "":
		return c.opts.FilterSubject
	case c.opts.StreamName != "":
		return c.opts.StreamName + ".>"
	default:
		return ">"
	}
}

// matchSubject compares dot separated tokens. "*" stands for exactly one
// token; ">" as the last token stands for one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}
	for {
		p, pattRest, pattMore := strings.Cut(pattern, ".")
		if p == ">" {
			return true
		}
		s, subjRest, subjMore := strings.Cut(subject, ".")
		if p != "*" && p != s {
			return false
		}
		if !pattMore || !subjMore {
			return pattMore == subjMore
		}
		pattern, subject = pattRest, subjRest
	}
}
