package grpcenv

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"envgrid.ai/internal/protocol"
)

// Client drives one Process stream.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	sctx, cancel := context.WithCancel(ctx)
	st, err := conn.NewStream(sctx, &serviceDesc.Streams[0], processMethod, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &Client{conn: conn, stream: st, cancel: cancel}, nil
}

func (c *Client) Call(req protocol.Request) (protocol.Response, error) {
	if err := c.stream.SendMsg(&req); err != nil {
		return protocol.Response{}, err
	}
	return c.ReadResponse()
}

// SendRaw sends b as one message without validation.
func (c *Client) SendRaw(b []byte) error {
	return c.stream.SendMsg(frame(b))
}

func (c *Client) ReadResponse() (protocol.Response, error) {
	var resp protocol.Response
	err := c.stream.RecvMsg(&resp)
	return resp, err
}

func (c *Client) Close() error {
	_ = c.stream.CloseSend()
	c.cancel()
	return c.conn.Close()
}
