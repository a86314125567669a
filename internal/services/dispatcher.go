package services

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// PaymeRPCRequest is the JSON-RPC 2.0 envelope Payme posts.
type PaymeRPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

type PaymeRPCError struct {
	Code    int               `json:"code"`
	Message map[string]string `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
}

// PaymeRPCResponse always travels over HTTP 200; business failures live in
// the Error member.
type PaymeRPCResponse struct {
	Jsonrpc string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Result  any            `json:"result,omitempty"`
	Error   *PaymeRPCError `json:"error,omitempty"`
}

// Standard JSON-RPC protocol errors, distinct from the Payme business codes.
var (
	rpcParseError = PaymeErrorInfo{
		Name: "ParseError",
		Code: -32700,
		Message: map[string]string{
			"en": "Parse error",
		},
	}
	rpcInvalidParams = PaymeErrorInfo{
		Name: "InvalidParams",
		Code: -32602,
		Message: map[string]string{
			"en": "Invalid params",
		},
	}
	rpcMethodNotFound = PaymeErrorInfo{
		Name: "MethodNotFound",
		Code: -32601,
		Message: map[string]string{
			"en": "Method not found",
		},
	}
)

// GatewayDispatcher is the single entry point the transport layer calls. It
// verifies authenticity first, then routes to the adapter method named by the
// provider's action or RPC method, and shapes the reply for the wire.
type GatewayDispatcher struct {
	click    *ClickService
	payme    *PaymeService
	paymeKey string
}

func NewGatewayDispatcher(click *ClickService, payme *PaymeService, paymeKey string) *GatewayDispatcher {
	return &GatewayDispatcher{click: click, payme: payme, paymeKey: paymeKey}
}

// HandleClick routes a Click webhook by its action field.
func (d *GatewayDispatcher) HandleClick(ctx context.Context, req ClickRequest) ClickResponse {
	switch req.Action {
	case ClickActionPrepare:
		return d.click.Prepare(ctx, req)
	case ClickActionComplete:
		return d.click.Complete(ctx, req)
	default:
		return ClickResponse{
			ClickTransID:    req.ClickTransID,
			MerchantTransID: req.MerchantTransID,
			Error:           ClickErrInternal,
			ErrorNote:       "Unknown action",
		}
	}
}

// HandlePayme verifies the body signature, then routes the JSON-RPC method.
// The signature check comes before parsing so an unauthenticated caller can
// probe neither transactions nor the schema.
func (d *GatewayDispatcher) HandlePayme(ctx context.Context, body []byte, signature string) PaymeRPCResponse {
	if !VerifyPaymeSignature(body, signature, d.paymeKey) {
		return rpcErrorResponse(bestEffortRPCID(body), PaymeErrorInvalidAuthorization, nil)
	}

	var req PaymeRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return rpcErrorResponse(nil, rpcParseError, nil)
	}

	switch req.Method {
	case "CheckPerformTransaction":
		var params CheckPerformParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcErrorResponse(req.ID, rpcInvalidParams, nil)
		}
		result, err := d.payme.CheckPerformTransaction(ctx, params, req.ID)
		return rpcResponse(req.ID, result, err)
	case "CreateTransaction":
		var params CreateTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcErrorResponse(req.ID, rpcInvalidParams, nil)
		}
		result, err := d.payme.CreateTransaction(ctx, params, req.ID)
		return rpcResponse(req.ID, result, err)
	case "PerformTransaction":
		var params PerformTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcErrorResponse(req.ID, rpcInvalidParams, nil)
		}
		result, err := d.payme.PerformTransaction(ctx, params, req.ID)
		return rpcResponse(req.ID, result, err)
	case "CancelTransaction":
		var params CancelTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcErrorResponse(req.ID, rpcInvalidParams, nil)
		}
		result, err := d.payme.CancelTransaction(ctx, params, req.ID)
		return rpcResponse(req.ID, result, err)
	case "CheckTransaction":
		var params CheckTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcErrorResponse(req.ID, rpcInvalidParams, nil)
		}
		result, err := d.payme.CheckTransaction(ctx, params, req.ID)
		return rpcResponse(req.ID, result, err)
	case "GetStatement":
		var params StatementParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcErrorResponse(req.ID, rpcInvalidParams, nil)
		}
		result, err := d.payme.GetStatement(ctx, params)
		if err != nil {
			return rpcResponse(req.ID, nil, err)
		}
		return rpcResponse(req.ID, map[string]any{"transactions": result}, nil)
	default:
		return rpcErrorResponse(req.ID, rpcMethodNotFound, nil)
	}
}

func rpcResponse(id any, result any, err error) PaymeRPCResponse {
	if err == nil {
		return PaymeRPCResponse{Jsonrpc: "2.0", ID: id, Result: result}
	}
	if txErr, ok := err.(*TransactionError); ok {
		return rpcErrorResponse(id, txErr.Info, txErr.Data)
	}
	// Collaborator fault: the only outcome the gateway should retry.
	log.Error().Err(err).Msg("payme method failed with internal error")
	return rpcErrorResponse(id, PaymeErrorInternal, nil)
}

func rpcErrorResponse(id any, info PaymeErrorInfo, data any) PaymeRPCResponse {
	return PaymeRPCResponse{
		Jsonrpc: "2.0",
		ID:      id,
		Error: &PaymeRPCError{
			Code:    info.Code,
			Message: info.Message,
			Data:    data,
		},
	}
}

// bestEffortRPCID pulls the request id out of an unauthenticated body so the
// rejection can still reference it, without trusting anything else in there.
func bestEffortRPCID(body []byte) any {
	var probe struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.ID
}
