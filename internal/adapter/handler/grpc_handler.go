package handler

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/baller-exchange/internal/adapter/identity"
	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/core/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "baller.exchange.v1.Exchange"

// JSONCodecName is the content subtype clients must request, for example
// with grpc.CallContentSubtype(JSONCodecName).
const JSONCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries plain Go structs as JSON so the service needs no
// generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

type AccrueRequest struct{}

type ListItemsRequest struct {
	Owner  string `json:"owner"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type ListItemsResponse struct {
	Items []ItemView `json:"items"`
}

type ListTradesRequest struct {
	Status domain.TradeStatus `json:"status"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

type ListTradesResponse struct {
	Trades []TradeView `json:"trades"`
}

type GRPCResolveRequest struct {
	TradeID string             `json:"trade_id"`
	Action  domain.TradeAction `json:"action"`
}

// ExchangeServer is the gRPC surface of the exchange.
type ExchangeServer interface {
	Roll(context.Context, *RollRequest) (*service.RollResult, error)
	Accrue(context.Context, *AccrueRequest) (*service.Accrual, error)
	ProposeTrade(context.Context, *ProposeTradeRequest) (*TradeView, error)
	ResolveTrade(context.Context, *GRPCResolveRequest) (*TradeView, error)
	ListItems(context.Context, *ListItemsRequest) (*ListItemsResponse, error)
	ListTrades(context.Context, *ListTradesRequest) (*ListTradesResponse, error)
}

type GRPCHandler struct {
	ledger  *service.LedgerService
	rolls   *service.RollService
	trades  *service.TradeService
	queries *service.QueryService
}

func NewGRPCHandler(ledger *service.LedgerService, rolls *service.RollService, trades *service.TradeService, queries *service.QueryService) *GRPCHandler {
	return &GRPCHandler{ledger: ledger, rolls: rolls, trades: trades, queries: queries}
}

// Register adds the exchange service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&exchangeServiceDesc, h)
}

func (h *GRPCHandler) Roll(ctx context.Context, req *RollRequest) (*service.RollResult, error) {
	result, err := h.rolls.Roll(ctx, req.RequestID, UserID(ctx), req.Pack)
	if err != nil {
		return nil, grpcError(err)
	}
	return result, nil
}

func (h *GRPCHandler) Accrue(ctx context.Context, _ *AccrueRequest) (*service.Accrual, error) {
	result, err := h.ledger.Accrue(ctx, UserID(ctx))
	if err != nil {
		return nil, grpcError(err)
	}
	return &result, nil
}

func (h *GRPCHandler) ProposeTrade(ctx context.Context, req *ProposeTradeRequest) (*TradeView, error) {
	t, err := h.trades.Propose(ctx, service.Proposal{
		SenderID:       UserID(ctx),
		RecipientID:    req.RecipientID,
		SenderItems:    req.SenderItems,
		RecipientItems: req.RecipientItems,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	view := tradeView(t)
	return &view, nil
}

func (h *GRPCHandler) ResolveTrade(ctx context.Context, req *GRPCResolveRequest) (*TradeView, error) {
	t, err := h.trades.Resolve(ctx, req.TradeID, UserID(ctx), req.Action)
	if err != nil {
		return nil, grpcError(err)
	}
	view := tradeView(t)
	return &view, nil
}

func (h *GRPCHandler) ListItems(ctx context.Context, req *ListItemsRequest) (*ListItemsResponse, error) {
	owner := req.Owner
	if owner == "" {
		owner = UserID(ctx)
	}
	items, err := h.queries.ListItems(ctx, UserID(ctx), owner, service.Page{Offset: req.Offset, Limit: req.Limit})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := &ListItemsResponse{Items: make([]ItemView, len(items))}
	for i, it := range items {
		resp.Items[i] = itemView(it)
	}
	return resp, nil
}

func (h *GRPCHandler) ListTrades(ctx context.Context, req *ListTradesRequest) (*ListTradesResponse, error) {
	trades, err := h.queries.ListTrades(ctx, UserID(ctx), req.Status, service.Page{Offset: req.Offset, Limit: req.Limit})
	if err != nil {
		return nil, grpcError(err)
	}
	resp := &ListTradesResponse{Trades: make([]TradeView, len(trades))}
	for i, t := range trades {
		resp.Trades[i] = tradeView(t)
	}
	return resp, nil
}

// AuthInterceptor resolves the caller from the "authorization" metadata, or
// from "x-user-id" when verifier is nil.
func AuthInterceptor(verifier *TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		first := func(key string) string {
			if v := md.Get(key); len(v) > 0 {
				return v[0]
			}
			return ""
		}

		if verifier == nil {
			userID := first(strings.ToLower(UserIDHeader))
			if userID == "" {
				return nil, status.Error(codes.Unauthenticated, "missing credentials")
			}
			return handler(withUser(ctx, userID), req)
		}

		raw := bearerToken(first("authorization"))
		if raw == "" {
			return nil, status.Error(codes.Unauthenticated, "missing credentials")
		}
		id, err := verifier.Verify(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		ctx = identity.WithProfile(withUser(ctx, id.UserID), id.Profile)
		return handler(ctx, req)
	}
}

var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Roll", ExchangeServer.Roll),
		unary("Accrue", ExchangeServer.Accrue),
		unary("ProposeTrade", ExchangeServer.ProposeTrade),
		unary("ResolveTrade", ExchangeServer.ResolveTrade),
		unary("ListItems", ExchangeServer.ListItems),
		unary("ListTrades", ExchangeServer.ListTrades),
	},
	Streams: []grpc.StreamDesc{},
}

// unary adapts a typed method to a gRPC method descriptor.
func unary[Req, Resp any](name string, call func(ExchangeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ExchangeServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}
