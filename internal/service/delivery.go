package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/samims/keepsake/internal/delivery"
	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/metrics"
	"github.com/samims/keepsake/internal/model"
	"github.com/samims/keepsake/pkg/tracing"
)

// ChannelRouter picks the delivery channel for a recipient address.
type ChannelRouter interface {
	Route(kind model.ChannelType, address string) (delivery.Channel, error)
}

// recipientResult is the independent outcome of one recipient send.
type recipientResult struct {
	recipient model.Recipient
	channel   string
	err       error
}

// fanOut sends k to every recipient concurrently, bounded by the fan-out limit.
// A failed send never cancels its siblings; all results are collected before returning.
// No send starts unless the lease outlasts it, so an overlapping run's sweep cannot
// hand the keepsake out again while recipients are still being reached.
func (p *Processor) fanOut(ctx context.Context, k model.Keepsake, runID uuid.UUID, recipients []model.Recipient) []recipientResult {
	results := make([]recipientResult, len(recipients))
	lease := &leaseKeeper{p: p, id: k.ID, runID: runID}
	if k.LeaseExpiresAt != nil {
		lease.until = *k.LeaseExpiresAt
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.FanOutLimit)
	for i, r := range recipients {
		g.Go(func() error {
			results[i] = p.sendOne(ctx, lease, k, r)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Processor) sendOne(ctx context.Context, lease *leaseKeeper, k model.Keepsake, r model.Recipient) recipientResult {
	res := recipientResult{recipient: r, channel: "none"}

	ch, err := p.router.Route(k.ChannelType, r.ContactAddress)
	if err != nil {
		res.err = err
		metrics.RecipientSends.WithLabelValues(res.channel, resultLabel(err)).Inc()
		return res
	}
	res.channel = ch.Name()

	if err := lease.cover(ctx); err != nil {
		res.err = err
		metrics.RecipientSends.WithLabelValues(res.channel, "skipped").Inc()
		return res
	}

	ctx, span := p.tracer.StartClientSpan(ctx, "keepsake.send",
		attribute.String(tracing.AttrKeepsakeID, k.ID.String()),
		attribute.String(tracing.AttrChannelName, res.channel),
	)
	defer span.End()

	sendCtx, cancel := withTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	// untagged errors, including a send timeout, count as transient
	err = ch.Send(sendCtx, delivery.NewMessage(k, r, r.ContactAddress))
	res.err = err
	p.tracer.RecordError(span, err)
	metrics.RecipientSends.WithLabelValues(res.channel, resultLabel(err)).Inc()
	return res
}

// leaseKeeper renews the lease of one claimed keepsake while its recipients are sent to.
// Once a renewal fails no further send is started.
type leaseKeeper struct {
	p     *Processor
	id    uuid.UUID
	runID uuid.UUID

	mu    sync.Mutex
	until time.Time
	err   error
}

// cover makes the lease outlast a send started now and the status write after it.
func (lk *leaseKeeper) cover(ctx context.Context) error {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.err != nil {
		return lk.err
	}

	now := lk.p.now()
	if now.Add(lk.p.cfg.SendTimeout + lk.p.dbTimeout).Before(lk.until) {
		return nil
	}

	until := now.Add(lk.p.cfg.LeaseDuration)
	if err := lk.p.extendLease(ctx, lk.id, lk.runID, until); err != nil {
		lk.err = fmt.Errorf("renew lease: %w", err)
		return lk.err
	}
	lk.until = until
	metrics.LeasesExtended.Inc()
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return appErr.KindOf(err).String()
}
