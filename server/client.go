package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chazu/sqdis/wire"
)

// Client calls the analysis service with the Connect client.
type Client struct {
	analyze *connect.Client[wire.AnalyzeRequest, wire.AnalyzeResponse]
	list    *connect.Client[wire.ListFunctionsRequest, wire.ListFunctionsResponse]
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// uses http.DefaultClient with the Connect protocol.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(wire.Codec{})}, opts...)
	return &Client{
		analyze: connect.NewClient[wire.AnalyzeRequest, wire.AnalyzeResponse](httpClient, baseURL+AnalyzeProcedure, opts...),
		list:    connect.NewClient[wire.ListFunctionsRequest, wire.ListFunctionsResponse](httpClient, baseURL+ListFunctionsProcedure, opts...),
	}
}

// NewH2CClient returns an HTTP client speaking cleartext HTTP/2, needed
// for the gRPC protocol against a server without TLS.
func NewH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// Analyze submits a compiled file.
func (c *Client) Analyze(ctx context.Context, req *wire.AnalyzeRequest) (*wire.AnalyzeResponse, error) {
	resp, err := c.analyze.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ListFunctions summarises a file's prototypes.
func (c *Client) ListFunctions(ctx context.Context, req *wire.ListFunctionsRequest) (*wire.ListFunctionsResponse, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Dial opens a gRPC connection to addr without transport security.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// RemoteAnalyze invokes Analyze over the gRPC protocol using grpc-go.
func RemoteAnalyze(ctx context.Context, conn *grpc.ClientConn, req *wire.AnalyzeRequest) (*wire.AnalyzeResponse, error) {
	var resp wire.AnalyzeResponse
	if err := conn.Invoke(ctx, AnalyzeProcedure, req, &resp, grpc.ForceCodec(wire.Codec{})); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoteListFunctions invokes ListFunctions over the gRPC protocol.
func RemoteListFunctions(ctx context.Context, conn *grpc.ClientConn, req *wire.ListFunctionsRequest) (*wire.ListFunctionsResponse, error) {
	var resp wire.ListFunctionsResponse
	if err := conn.Invoke(ctx, ListFunctionsProcedure, req, &resp, grpc.ForceCodec(wire.Codec{})); err != nil {
		return nil, err
	}
	return &resp, nil
}
