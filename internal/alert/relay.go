package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/focusforge/internal/domain"
)

// RelayNotifyMethod is the full gRPC method name served by the desktop relay.
const RelayNotifyMethod = "/focusforge.relay.v1.NotificationRelay/Notify"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// RelayConfig holds configuration for the desktop notification relay client.
type RelayConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultRelayConfig returns default relay settings for addr.
func DefaultRelayConfig(addr string) RelayConfig {
	return RelayConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Relay forwards OS notifications to a desktop helper over gRPC. The server
// process usually runs headless, so the helper is what actually draws the
// notification on the user's machine.
type Relay struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

var _ Desktop = (*Relay)(nil)

// DialRelay connects to the relay and waits until the connection is ready.
func DialRelay(cfg RelayConfig, logger *slog.Logger, opts ...grpc.DialOption) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("relay address is empty")
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create relay client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close relay connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("notification relay at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to notification relay", "address", cfg.Address)
	return &Relay{conn: conn, addr: cfg.Address, logger: logger}, nil
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

// Notify asks the relay to show a notification. A PermissionDenied status
// from the relay maps to domain.ErrNotificationDenied.
func (r *Relay) Notify(ctx context.Context, title, body string) error {
	req, err := structpb.NewStruct(map[string]any{
		"title":               title,
		"body":                body,
		"tag":                 "focus-alert",
		"require_interaction": true,
	})
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}

	var resp emptypb.Empty
	if err := r.conn.Invoke(ctx, RelayNotifyMethod, req, &resp); err != nil {
		if status.Code(err) == codes.PermissionDenied {
			return fmt.Errorf("%w: %s", domain.ErrNotificationDenied, status.Convert(err).Message())
		}
		return fmt.Errorf("relay notify: %w", err)
	}
	return nil
}

// Close releases the connection.
func (r *Relay) Close() error {
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("close relay connection: %w", err)
	}
	return nil
}
