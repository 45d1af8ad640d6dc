// Package ccnp is a client for the quote server of the Confidential Cloud-Native Primitives,
// which hands out TD quotes over a unix socket to workloads without access to the TDX guest device.
package ccnp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultSocket is where the quote server listens.
const DefaultSocket = "/run/ccnp/uds/quote-server.sock"

const (
	serviceName    = "ccnpserver.GetQuote"
	getQuoteMethod = "/" + serviceName + "/GetQuote"
	// quoteTypeTDX is assumed for servers that leave quote_type unset.
	quoteTypeTDX = "TDX"
)

var log = logrus.WithField("service", "ccnp")

// Report is a quote returned by the quote server.
type Report struct {
	Quote     []byte
	QuoteType string
}

// Client talks to the quote server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial returns a client for the quote server listening on socket.
// The connection is established lazily on the first request.
func Dial(socket string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("creating ccnp client for %s: %w", socket, err)
	}
	return &Client{conn: conn}, nil
}

// GetCCReport requests a quote for the base64 encoded nonce and user data.
func (c *Client) GetCCReport(ctx context.Context, nonce, userData string) (Report, error) {
	log.Debug("Requesting quote from ccnp quote server")

	var resp GetQuoteResponse
	req := &GetQuoteRequest{Nonce: nonce, UserData: userData}
	if err := c.conn.Invoke(ctx, getQuoteMethod, req, &resp, grpc.ForceCodec(codec{})); err != nil {
		return Report{}, fmt.Errorf("requesting quote from ccnp: %w", err)
	}

	quote, err := base64.StdEncoding.DecodeString(resp.Quote)
	if err != nil {
		return Report{}, fmt.Errorf("%w: quote is not base64 encoded: %w", ErrMalformed, err)
	}
	quoteType := resp.QuoteType
	if quoteType == "" {
		quoteType = quoteTypeTDX
	}
	return Report{Quote: quote, QuoteType: quoteType}, nil
}

// Close closes the connection to the quote server.
func (c *Client) Close() error {
	return c.conn.Close()
}

// QuoteServer is the server side of the quote service.
type QuoteServer interface {
	GetQuote(context.Context, *GetQuoteRequest) (*GetQuoteResponse, error)
}

// RegisterQuoteServer registers srv on s. The server must be created with ServerCodec.
func RegisterQuoteServer(s *grpc.Server, srv QuoteServer) {
	s.RegisterService(&serviceDesc, srv)
}

// ServerCodec returns the server option for the codec of the quote service.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(codec{})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*QuoteServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetQuote",
			Handler:    getQuoteHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func getQuoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetQuoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QuoteServer).GetQuote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getQuoteMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QuoteServer).GetQuote(ctx, req.(*GetQuoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}
