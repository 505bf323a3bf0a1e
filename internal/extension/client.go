package extension

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/gofer-hq/gofer/internal/rpc"
)

const (
	serviceName = "gofer.ExtensionService"
	dialTimeout = 10 * time.Second
)

func method(name string) string {
	return fmt.Sprintf("/%s/%s", serviceName, name)
}

// client is a thin wrapper over a *grpc.ClientConn to one extension
// container, authenticated with the pre-shared key minted at install time.
type client struct {
	conn *grpc.ClientConn
	key  string
}

func dial(addr string) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("extension: dialing %s: %w", addr, err)
	}
	return conn, nil
}

func newClient(addr, key string) (*client, error) {
	conn, err := dial(addr)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, key: key}, nil
}

func (c *client) close() error {
	return c.conn.Close()
}

func (c *client) authContext(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.key)
}

func (c *client) Init(ctx context.Context, req InitRequest) (InitResponse, error) {
	var resp InitResponse
	err := c.conn.Invoke(c.authContext(ctx), method("Init"), req, &resp)
	return resp, err
}

func (c *client) Info(ctx context.Context, req InfoRequest) (InfoResponse, error) {
	var resp InfoResponse
	err := c.conn.Invoke(c.authContext(ctx), method("Info"), req, &resp)
	return resp, err
}

func (c *client) Subscribe(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error) {
	var resp SubscribeResponse
	err := c.conn.Invoke(c.authContext(ctx), method("Subscribe"), req, &resp)
	return resp, err
}

func (c *client) Unsubscribe(ctx context.Context, req UnsubscribeRequest) (UnsubscribeResponse, error) {
	var resp UnsubscribeResponse
	err := c.conn.Invoke(c.authContext(ctx), method("Unsubscribe"), req, &resp)
	return resp, err
}

func (c *client) Shutdown(ctx context.Context, req ShutdownRequest) (ShutdownResponse, error) {
	var resp ShutdownResponse
	err := c.conn.Invoke(c.authContext(ctx), method("Shutdown"), req, &resp)
	return resp, err
}

func (c *client) ExternalEvent(ctx context.Context, req ExternalEventRequest) (ExternalEventResponse, error) {
	var resp ExternalEventResponse
	err := c.conn.Invoke(c.authContext(ctx), method("ExternalEvent"), req, &resp)
	return resp, err
}
