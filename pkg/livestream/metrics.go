package livestream

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"

	"github.com/chainscribe/chainscribe/pkg/metrics"
)

func (s *Stream) initMetrics() error {
	meter := global.MeterProvider().Meter("chainscribe")

	mProcessed, err := meter.Int64ObservableCounter(
		"chainscribe.livestream.processed.count",
		instrument.WithDescription("Number of enriched records emitted"),
	)
	if err != nil {
		return fmt.Errorf("creating processed counter: %s", err)
	}
	mPostponed, err := meter.Int64ObservableCounter(
		"chainscribe.livestream.postponed.count",
		instrument.WithDescription("Number of logs parked waiting for a receipt"),
	)
	if err != nil {
		return fmt.Errorf("creating postponed counter: %s", err)
	}
	mDropped, err := meter.Int64ObservableCounter(
		"chainscribe.livestream.dropped.count",
		instrument.WithDescription("Number of parked logs dropped after the retry ttl"),
	)
	if err != nil {
		return fmt.Errorf("creating dropped counter: %s", err)
	}
	mRetrySize, err := meter.Int64ObservableGauge(
		"chainscribe.livestream.retryqueue.size",
		instrument.WithDescription("Number of transactions waiting for a receipt"),
	)
	if err != nil {
		return fmt.Errorf("creating retry queue gauge: %s", err)
	}
	mReconnects, err := meter.Int64ObservableCounter(
		"chainscribe.livestream.reconnects.count",
		instrument.WithDescription("Number of websocket re-dials"),
	)
	if err != nil {
		return fmt.Errorf("creating reconnects counter: %s", err)
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(mProcessed, s.processor.mProcessed.Load(), metrics.BaseAttrs...)
			o.ObserveInt64(mPostponed, s.processor.mPostponed.Load(), metrics.BaseAttrs...)
			o.ObserveInt64(mDropped, s.processor.mDropped.Load(), metrics.BaseAttrs...)
			o.ObserveInt64(mRetrySize, s.processor.mRetrySize.Load(), metrics.BaseAttrs...)
			o.ObserveInt64(mReconnects, s.listener.Reconnects(), metrics.BaseAttrs...)
			return nil
		},
		[]instrument.Asynchronous{
			mProcessed,
			mPostponed,
			mDropped,
			mRetrySize,
			mReconnects,
		}...,
	)
	if err != nil {
		return fmt.Errorf("registering callback: %s", err)
	}
	return nil
}
