package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/voxcore/internal/domain"
)

// Fully qualified method names of the reasoning service. Payloads are
// google.protobuf.Struct in both directions.
const (
	resolveMethod = "/voxcore.reasoning.v1.Reasoner/Resolve"
	healthMethod  = "/voxcore.reasoning.v1.Reasoner/Health"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	Token            string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// WaitForReady makes NewGrpcClient block until the connection is ready.
	WaitForReady bool
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   8 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient resolves utterances through the remote reasoning service.
type GrpcClient struct {
	conn    *grpc.ClientConn
	addr    string
	token   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcClient creates a client for cfg.Address. No network I/O happens unless
// cfg.WaitForReady is set.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("reasoning service address is required")
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning client for %s: %w", cfg.Address, err)
	}

	if cfg.WaitForReady {
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := waitForReady(connectCtx, conn); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
			}
			return nil, fmt.Errorf("reasoning service at %s not ready: %w", cfg.Address, err)
		}
		logger.Info("Connected to reasoning service", "address", cfg.Address)
	}

	return &GrpcClient{
		conn:    conn,
		addr:    cfg.Address,
		token:   cfg.Token,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Resolve sends q to the remote service and parses its reply. Transport failures,
// timeouts and cancellation wrap domain.ErrRemoteServiceFailure.
func (c *GrpcClient) Resolve(ctx context.Context, q Query) (domain.IntentResult, error) {
	req, err := structpb.NewStruct(queryFields(q))
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("encode query: %w", err)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	start := time.Now()
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, resolveMethod, req, resp); err != nil {
		c.logger.Warn("Reasoning call failed",
			"user_id", q.User,
			"code", status.Code(err).String(),
			"elapsed", time.Since(start),
			"error", err)
		return domain.IntentResult{}, fmt.Errorf("resolve (%s): %w: %w", status.Code(err), domain.ErrRemoteServiceFailure, err)
	}

	content, err := replyContent(resp)
	if err != nil {
		return domain.IntentResult{}, err
	}
	return ParseReply(content, q.Text, c.logger)
}

// Health asks the remote service for its status.
func (c *GrpcClient) Health(ctx context.Context) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, healthMethod, &structpb.Struct{}, resp); err != nil {
		return "", fmt.Errorf("health check failed: %w: %w", domain.ErrRemoteServiceFailure, err)
	}
	s := resp.GetFields()["status"].GetStringValue()
	if s == "" {
		s = "unknown"
	}
	return s, nil
}

func (c *GrpcClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func queryFields(q Query) map[string]any {
	msgs := make([]any, 0, len(q.Context.Messages))
	for _, m := range q.Context.Messages {
		msgs = append(msgs, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	entities := make(map[string]any, len(q.Context.Entities))
	for k, v := range q.Context.Entities {
		entities[k] = v
	}
	mode := q.Mode
	if mode == "" {
		mode = ModeCommand
	}
	return map[string]any{
		"text":      q.Text,
		"assistant": q.Assistant,
		"user":      q.User,
		"mode":      string(mode),
		"context": map[string]any{
			"messages": msgs,
			"entities": entities,
		},
	}
}

// replyContent returns the "content" string of a reply, or the whole reply as JSON
// when the service answered with structured fields.
func replyContent(resp *structpb.Struct) (string, error) {
	fields := resp.GetFields()
	if v, ok := fields["content"]; ok {
		return v.GetStringValue(), nil
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("empty reply: %w", domain.ErrMalformedResponse)
	}
	b, err := json.Marshal(resp.AsMap())
	if err != nil {
		return "", fmt.Errorf("encode structured reply: %v: %w", err, domain.ErrMalformedResponse)
	}
	return string(b), nil
}
