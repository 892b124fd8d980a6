package protocol

import (
	"context"
	"io"
)

// Feeder and Drainer are the two halves of the record-stream contract. A
// network peer feeds outbound records from its session and drains inbound
// records into it; queues and sessions implement one or both, which keeps
// the transport decoupled from what the records mean.

// Feeder reads the next batch of records. The EoF convention follows
// io.Reader: either `recs, io.EOF` or `recs, nil` followed by `nil, io.EOF`.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

// Drainer accepts a batch of records.
type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

type FeedCloser interface {
	Feeder
	io.Closer
}

type DrainCloser interface {
	Drainer
	io.Closer
}

// FeedDrainCloser is a full duplex record session.
type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

// Relay moves one batch from feeder to drainer. Records that arrived
// together with a feed error are still drained.
func Relay(ctx context.Context, feeder Feeder, drainer Drainer) error {
	recs, err := feeder.Feed(ctx)
	if err != nil {
		if len(recs) > 0 {
			_ = drainer.Drain(ctx, recs)
		}
		return err
	}
	return drainer.Drain(ctx, recs)
}

// Pump relays batches until an error or context cancellation.
func Pump(ctx context.Context, feeder Feeder, drainer Drainer) (err error) {
	for err == nil && ctx.Err() == nil {
		err = Relay(ctx, feeder, drainer)
	}
	return
}
