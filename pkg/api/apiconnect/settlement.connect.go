// Package apiconnect wires the jobsettle.v1 services to Connect handlers and
// clients.
package apiconnect

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/jobsettle/pkg/api"
)

const (
	// SettlementServiceName is the fully-qualified name of the SettlementService.
	SettlementServiceName = "jobsettle.v1.SettlementService"

	// SettlementServiceSettleProcedure is the path of the Settle RPC.
	SettlementServiceSettleProcedure = "/jobsettle.v1.SettlementService/Settle"
)

// SettlementServiceClient is a client for the jobsettle.v1.SettlementService.
type SettlementServiceClient interface {
	Settle(context.Context, *connect.Request[api.SettleRequest]) (*connect.Response[api.SettleResponse], error)
}

// NewSettlementServiceClient constructs a client for the
// jobsettle.v1.SettlementService. baseURL is the server root, e.g.
// http://localhost:8080.
func NewSettlementServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) SettlementServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	return &settlementServiceClient{
		settle: connect.NewClient[api.SettleRequest, api.SettleResponse](
			httpClient,
			baseURL+SettlementServiceSettleProcedure,
			opts...,
		),
	}
}

type settlementServiceClient struct {
	settle *connect.Client[api.SettleRequest, api.SettleResponse]
}

func (c *settlementServiceClient) Settle(ctx context.Context, req *connect.Request[api.SettleRequest]) (*connect.Response[api.SettleResponse], error) {
	return c.settle.CallUnary(ctx, req)
}

// SettlementServiceHandler is implemented by the settlement service.
type SettlementServiceHandler interface {
	Settle(context.Context, *connect.Request[api.SettleRequest]) (*connect.Response[api.SettleResponse], error)
}

// NewSettlementServiceHandler builds an HTTP handler from the service
// implementation. It returns the path to mount the handler on.
func NewSettlementServiceHandler(svc SettlementServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	settleHandler := connect.NewUnaryHandler(
		SettlementServiceSettleProcedure,
		svc.Settle,
		opts...,
	)
	return "/" + SettlementServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SettlementServiceSettleProcedure:
			settleHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// UnimplementedSettlementServiceHandler returns CodeUnimplemented from all methods.
type UnimplementedSettlementServiceHandler struct{}

func (UnimplementedSettlementServiceHandler) Settle(context.Context, *connect.Request[api.SettleRequest]) (*connect.Response[api.SettleResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("jobsettle.v1.SettlementService.Settle is not implemented"))
}
