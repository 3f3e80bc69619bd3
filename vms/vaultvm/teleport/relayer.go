// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package teleport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/vault/vms/vaultvm/metrics"
)

// Relayer carries committed packets between a set of endpoints.
type Relayer struct {
	log       log.Logger
	metrics   metrics.Metrics
	endpoints map[uint32]*Endpoint
}

func NewRelayer(logger log.Logger, m metrics.Metrics, endpoints ...*Endpoint) *Relayer {
	r := &Relayer{
		log:       logger,
		metrics:   m,
		endpoints: make(map[uint32]*Endpoint, len(endpoints)),
	}
	for _, e := range endpoints {
		r.endpoints[e.Eid()] = e
	}
	return r
}

// Relay delivers outbound packets until no endpoint has anything left to
// deliver. Delivering a packet may cause more packets to be sent, which
// are relayed in the same call. It returns the number of packets delivered
// and the delivery failures of the last pass. Failed packets stay in their
// outbox.
func (r *Relayer) Relay(ctx context.Context) (int, error) {
	total := 0
	for {
		delivered, failures, err := r.pass(ctx)
		total += delivered
		if delivered > 0 {
			r.metrics.MarkPacketsRelayed(delivered)
		}
		if err != nil {
			return total, err
		}
		if delivered == 0 {
			return total, errors.Join(failures...)
		}
	}
}

func (r *Relayer) pass(ctx context.Context) (int, []error, error) {
	var (
		delivered int
		failures  []error
	)
	for _, src := range r.endpoints {
		outbox, err := src.Outbox()
		if err != nil {
			return delivered, nil, fmt.Errorf("failed to read outbox of %d: %w", src.Eid(), err)
		}
		for _, out := range outbox {
			if err := ctx.Err(); err != nil {
				return delivered, nil, err
			}
			dst, ok := r.endpoints[out.DstEid]
			if !ok {
				failures = append(failures, fmt.Errorf("%w: %d", ErrUnknownEndpoint, out.DstEid))
				continue
			}
			if err := dst.Deliver(ctx, out.Message, out.Signature); err != nil {
				r.log.Debug("packet delivery failed",
					log.Uint32("srcEid", src.Eid()),
					log.Uint32("dstEid", out.DstEid),
					log.Uint64("seq", out.Seq),
					log.Err(err),
				)
				failures = append(failures, fmt.Errorf("packet %d from %d: %w", out.Seq, src.Eid(), err))
				continue
			}
			if err := src.Ack(out.Seq); err != nil {
				return delivered, nil, err
			}
			delivered++
		}
	}
	return delivered, failures, nil
}

// Run relays every [interval] until [ctx] is cancelled.
func (r *Relayer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Relay(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				r.log.Warn("relay incomplete",
					log.Int("delivered", n),
					log.Err(err),
				)
			}
		}
	}
}
