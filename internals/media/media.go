// Package media defines the control-plane contract of the embedded media
// engine: workers host routers, routers host transports, transports host
// producers and consumers. Every method taking a context may block on the
// engine and must be bounded by the caller.
package media

import (
	"context"
	"errors"
)

var (
	ErrClosed          = errors.New("media: object closed")
	ErrUnknownProducer = errors.New("media: unknown producer")
	ErrCannotConsume   = errors.New("media: codec cannot be consumed")
	ErrUnsupported     = errors.New("media: codec not supported by router")
	ErrBadParameters   = errors.New("media: invalid parameters")
	ErrNotConnected    = errors.New("media: transport not connected")
)

type Engine interface {
	// NewWorker starts an independent media worker.
	NewWorker(ctx context.Context, index int) (Worker, error)
}

type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	Close() error
}

type Router interface {
	ID() string
	WorkerID() string
	Capabilities() RtpCapabilities
	// CanConsume reports whether a consumer with the given device
	// capabilities can receive the producer.
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	Close() error
}

type Transport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, params ConnectParams) error
	Connected() bool
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	// Close closes the transport together with every producer and consumer on it.
	Close() error
	Closed() bool
}

type Producer interface {
	ID() string
	Kind() Kind
	RtpParameters() RtpParameters
	AppData() map[string]interface{}
	Close() error
	Closed() bool
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RtpParameters() RtpParameters
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
	Closed() bool
}
