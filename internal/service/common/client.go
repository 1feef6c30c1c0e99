//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/oshokin/distroget/internal/domain/release"
	pb "github.com/oshokin/distroget/internal/pb/v1"
	"github.com/oshokin/distroget/internal/service/download"
)

// DefaultCallTimeout bounds a single status call.
const DefaultCallTimeout = 10 * time.Second

// Client wraps the gRPC StatusService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the watch daemon.
	conn *grpc.ClientConn
	// api is the StatusService client interface.
	api pb.StatusServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// dialOptions are appended to the defaults when connecting.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithDialOptions adds gRPC dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial prepares a gRPC connection to the watch daemon's status service.
// Note: this uses insecure transport credentials; the service is meant to
// listen on a loopback or trusted address.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, client.dialOptions...)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial status service: %w", err)
	}

	client.conn = conn
	client.api = pb.NewStatusServiceClient(conn)

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// GetStatus retrieves the download snapshot as a generic map with the snapshot keys.
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetStatus(callCtx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	fields := response.AsMap()

	// Keep the key set stable even if the daemon is older or newer.
	empty := download.EmptyStatus(false).Fields()
	for _, key := range download.StatusKeys() {
		if _, ok := fields[key]; !ok {
			fields[key] = empty[key]
		}
	}

	return fields, nil
}

// GetLastReport retrieves the report of the last finished run.
func (c *Client) GetLastReport(ctx context.Context) (*release.Report, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetLastReport(callCtx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("get last report: %w", err)
	}

	report, err := release.ReportFromFields(response.AsMap())
	if err != nil {
		return nil, fmt.Errorf("get last report: %w", err)
	}

	return report, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
