package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/Ind1x1/dlock/pkg/config"
	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/Ind1x1/dlock/pkg/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a node's connection to the master's Multiplexer. It is the
// retry target's counterpart: the master never retries, so every
// transport failure here is retried with a fixed backoff (spec section
// 7, "Retry policy").
type Client struct {
	conn   *grpc.ClientConn
	logger zerolog.Logger
}

// Dial connects to addr using the JSON codec in place of a generated
// proto marshaller.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(config.MaxGRPCMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxGRPCMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, logger: log.WithComponent("transport_client")}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) report(ctx context.Context, env wire.Envelope) (wire.Response, error) {
	var resp wire.Response
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Report", &env, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	var resp wire.Envelope
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Get", &env, &resp)
	return resp, err
}

// Report retries on transport failure with config.DefaultClientRetryBackoff
// for up to config.DefaultClientRetryAttempts attempts.
func (c *Client) Report(ctx context.Context, env wire.Envelope) (wire.Response, error) {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	var resp wire.Response
	var err error
	for attempt := 0; attempt < config.DefaultClientRetryAttempts; attempt++ {
		resp, err = c.report(ctx, env)
		if err == nil {
			return resp, nil
		}
		c.logger.Warn().Err(err).Str("correlation_id", env.CorrelationID).
			Int("attempt", attempt+1).Str("kind", env.PayloadKind).Msg("report failed, retrying")
		if !sleepOrDone(ctx, config.DefaultClientRetryBackoff) {
			return wire.Response{}, ctx.Err()
		}
	}
	return wire.Response{}, fmt.Errorf("transport: report %s: %w", env.PayloadKind, err)
}

// Get retries on transport failure the same way Report does.
func (c *Client) Get(ctx context.Context, env wire.Envelope) ([]byte, error) {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	var resp wire.Envelope
	var err error
	for attempt := 0; attempt < config.DefaultClientRetryAttempts; attempt++ {
		resp, err = c.get(ctx, env)
		if err == nil {
			return resp.Payload, nil
		}
		c.logger.Warn().Err(err).Str("correlation_id", env.CorrelationID).
			Int("attempt", attempt+1).Str("kind", env.PayloadKind).Msg("get failed, retrying")
		if !sleepOrDone(ctx, config.DefaultClientRetryBackoff) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("transport: get %s: %w", env.PayloadKind, err)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
