// Package livestream records event logs as they happen. It chains three
// stages over bounded channels: a listener holding websocket subscriptions,
// a processor enriching raw logs into records, and a writer persisting them.
package livestream

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/chainscribe/chainscribe/pkg/events"
	"github.com/chainscribe/chainscribe/pkg/events/registry"
)

const pipelineDepth = 128

// Stream is a live recording pipeline.
type Stream struct {
	listener  *Listener
	processor *Processor
	writer    *Writer
}

// New composes the three pipeline stages into a runnable stream.
func New(listener *Listener, processor *Processor, writer *Writer) (*Stream, error) {
	s := &Stream{
		listener:  listener,
		processor: processor,
		writer:    writer,
	}
	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing stream metrics: %s", err)
	}
	return s, nil
}

// AddSubscription wires a contract's event into all three stages: topic and
// contract into the listener, handler and event id into the processor, and
// persistence category into the writer. The handler's chain context is
// resolved here so the pipeline never decodes with a half-built handler.
// Must be called before Run.
func (s *Stream) AddSubscription(
	ctx context.Context, eventID, contractAddress string, caller events.ContractCaller,
) error {
	topic, err := registry.Topic(eventID)
	if err != nil {
		return fmt.Errorf("resolving event topic: %s", err)
	}
	category, err := registry.Category(eventID)
	if err != nil {
		return fmt.Errorf("resolving event category: %s", err)
	}
	handler, err := registry.NewHandler(eventID, common.HexToAddress(contractAddress))
	if err != nil {
		return fmt.Errorf("creating event handler: %s", err)
	}
	if handler != nil {
		if err := handler.ResolveContext(ctx, caller); err != nil {
			return fmt.Errorf("resolving handler context: %s", err)
		}
	}

	subscriptionID := s.listener.AddSubscription(contractAddress, topic.Hex())
	s.processor.RegisterEventID(subscriptionID, eventID)
	s.processor.RegisterHandler(subscriptionID, handler)
	s.writer.RegisterCategory(subscriptionID, category)

	logger.Info().
		Str("event_id", eventID).
		Str("contract_address", contractAddress).
		Int("subscription_id", subscriptionID).
		Msg("subscription added")
	return nil
}

// Run drives the pipeline until ctx is canceled or a stage fails.
func (s *Stream) Run(ctx context.Context) error {
	rawLogs := make(chan ListenerOutput, pipelineDepth)
	records := make(chan ProcessorOutput, pipelineDepth)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listener.ListenForever(ctx, rawLogs) })
	g.Go(func() error { return s.processor.ProcessForever(ctx, rawLogs, records) })
	g.Go(func() error { return s.writer.WriteForever(ctx, records) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running live stream: %s", err)
	}
	return nil
}
