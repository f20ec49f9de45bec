package agentroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RPC error codes synthesized locally. Codes received from the agent pass
// through unchanged.
const (
	rpcCodeTimeout     = "TIMEOUT"
	rpcCodeParseError  = "PARSE_ERROR"
	rpcCodeUnsupported = "UNSUPPORTED_METHOD"
	rpcCodeHandler     = "HANDLER_ERROR"
)

// RPCHandler answers an inbound RPC from the agent. The returned payload is
// serialized to JSON; a returned error is serialized as an RPC error object.
type RPCHandler func(ctx context.Context, caller string, payload json.RawMessage) (any, error)

// rpcOutcome carries a resolved call from the dispatch goroutine back to
// the waiting PerformRPC caller.
type rpcOutcome struct {
	payload json.RawMessage
	errObj  *RPCErrorPayload
	err     error
}

// PerformRPC sends a JSON-encoded remote-procedure call to the agent
// participant and waits for the correlated response. The payload is
// marshaled to JSON; the agent's response payload is returned raw for the
// caller to decode.
//
// The call is bounded by DefaultRPCTimeout (or Config.RPCTimeout) unless
// ctx carries a sooner deadline. A timeout, a transport failure, or a
// response that cannot be parsed all resolve to an *RPCError rather than a
// raw transport or JSON error, so callers always observe a uniform error
// object for a failed exchange.
//
// Requires the can_publish_data permission.
func (c *Client) PerformRPC(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	if method == "" {
		return nil, NewRPCError(method, rpcCodeParseError, "method cannot be empty", nil)
	}
	if !c.Permissions().CanPublishData {
		return nil, NewRPCError(method, "PERMISSION_DENIED", "token does not grant data publishing", ErrPermissionDenied)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewRPCError(method, rpcCodeParseError, "marshal payload", err)
	}

	id := uuid.NewString()
	ch := make(chan rpcOutcome, 1)
	c.rpcMu.Lock()
	c.rpcPending[id] = ch
	c.rpcMu.Unlock()
	defer func() {
		c.rpcMu.Lock()
		delete(c.rpcPending, id)
		c.rpcMu.Unlock()
	}()

	msg := map[string]any{
		"type":       "rpc_request",
		"request_id": id,
		"method":     method,
		"payload":    json.RawMessage(body),
	}
	if agent, ok := c.AgentParticipant(); ok {
		msg["destination_identity"] = agent.Identity
	}

	if err := c.sendData(ctx, msg); err != nil {
		return nil, NewRPCError(method, "SEND_FAILED", "send request", err)
	}

	timeout := c.cfg.rpcTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, NewRPCError(method, "CONNECTION_CLOSED", "connection closed", out.err)
		}
		if out.errObj != nil {
			return nil, NewRPCError(method, out.errObj.Code, out.errObj.Message, nil)
		}
		return out.payload, nil
	case <-timer.C:
		c.log("rpc_timeout", map[string]any{"method": method, "timeout": timeout.String()})
		return nil, NewRPCError(method, rpcCodeTimeout,
			fmt.Sprintf("agent did not respond within %s", timeout), ErrRPCTimeout)
	case <-ctx.Done():
		return nil, NewRPCError(method, "CANCELLED", "context cancelled", ctx.Err())
	case <-c.closedCh:
		return nil, NewRPCError(method, "CONNECTION_CLOSED", "connection closed", ErrClosed)
	}
}

// RegisterRPCMethod installs a handler for inbound RPCs from the agent.
// Registering a nil handler removes the method. Inbound calls to methods
// with no handler answer with an UNSUPPORTED_METHOD error object.
func (c *Client) RegisterRPCMethod(method string, handler RPCHandler) {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()
	if handler == nil {
		delete(c.rpcHandlers, method)
		return
	}
	c.rpcHandlers[method] = handler
}

// sendData routes a data-plane message through the media peer's data
// channel when one is attached, falling back to the signaling connection
// (which relays to the destination participant).
func (c *Client) sendData(ctx context.Context, msg map[string]any) error {
	c.mediaMu.Lock()
	media := c.media
	c.mediaMu.Unlock()
	if media != nil {
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return media.SendData(ctx, b)
	}
	return c.send(ctx, msg)
}

// handleRPCResponse resolves the pending call the response correlates to.
// A response whose body cannot be parsed resolves the call to a PARSE_ERROR
// error object instead of dropping it.
func (c *Client) handleRPCResponse(raw []byte) {
	var e RPCResponseEvent
	if err := json.Unmarshal(raw, &e); err != nil || e.RequestID == "" {
		c.logError("bad_rpc_response", map[string]any{"raw_data": string(raw)})
		// Without a request id there is nothing to correlate; drop it.
		return
	}

	c.rpcMu.Lock()
	ch, ok := c.rpcPending[e.RequestID]
	if ok {
		delete(c.rpcPending, e.RequestID)
	}
	c.rpcMu.Unlock()
	if !ok {
		// Late response after timeout; already resolved.
		c.log("rpc_late_response", map[string]any{"request_id": e.RequestID})
		return
	}

	ch <- rpcOutcome{payload: e.Payload, errObj: e.Error}
}

// salvageRPCResponse recovers the request id from an rpc_response that is
// not valid JSON, so the pending call resolves to a PARSE_ERROR object
// instead of hanging until the timeout. It token-scans the message prefix
// up to the syntax error, collecting top-level string fields.
func (c *Client) salvageRPCResponse(raw []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return false
	}

	var typ, requestID string
scan:
	for {
		keyTok, err := dec.Token()
		if err != nil {
			break
		}
		key, ok := keyTok.(string)
		if !ok {
			break
		}
		valTok, err := dec.Token()
		if err != nil {
			break
		}
		switch v := valTok.(type) {
		case string:
			switch key {
			case "type":
				typ = v
			case "request_id":
				requestID = v
			}
		case json.Delim:
			// Skip the nested value; a syntax error inside it ends the scan.
			if v == json.Delim('{') || v == json.Delim('[') {
				depth := 1
				for depth > 0 {
					t, err := dec.Token()
					if err != nil {
						break scan
					}
					switch t {
					case json.Delim('{'), json.Delim('['):
						depth++
					case json.Delim('}'), json.Delim(']'):
						depth--
					}
				}
			}
		}
	}

	if typ != "rpc_response" || requestID == "" {
		return false
	}

	c.rpcMu.Lock()
	ch, ok := c.rpcPending[requestID]
	if ok {
		delete(c.rpcPending, requestID)
	}
	c.rpcMu.Unlock()
	if !ok {
		return false
	}

	c.logError("rpc_response_unparseable", map[string]any{"request_id": requestID})
	ch <- rpcOutcome{errObj: &RPCErrorPayload{
		Code:    rpcCodeParseError,
		Message: "response is not valid JSON",
	}}
	return true
}

// handleRPCRequest dispatches an inbound call to its registered handler and
// sends the reply. Handlers run on the read loop goroutine; long-running
// handlers should spawn their own goroutine and must not call PerformRPC
// synchronously.
func (c *Client) handleRPCRequest(raw []byte) {
	var e RPCRequestEvent
	if err := json.Unmarshal(raw, &e); err != nil || e.RequestID == "" {
		c.logError("bad_rpc_request", map[string]any{"raw_data": string(raw)})
		return
	}

	c.rpcMu.Lock()
	handler := c.rpcHandlers[e.Method]
	c.rpcMu.Unlock()

	reply := map[string]any{
		"type":       "rpc_response",
		"request_id": e.RequestID,
	}
	if handler == nil {
		reply["error"] = RPCErrorPayload{
			Code:    rpcCodeUnsupported,
			Message: fmt.Sprintf("no handler for method %q", e.Method),
		}
	} else {
		result, err := handler(context.Background(), e.CallerIdentity, e.Payload)
		if err != nil {
			reply["error"] = RPCErrorPayload{Code: rpcCodeHandler, Message: err.Error()}
		} else {
			b, merr := json.Marshal(result)
			if merr != nil {
				reply["error"] = RPCErrorPayload{Code: rpcCodeHandler, Message: "marshal handler result"}
			} else {
				reply["payload"] = json.RawMessage(b)
			}
		}
	}

	if err := c.sendData(context.Background(), reply); err != nil && !errors.Is(err, ErrClosed) {
		c.logError("rpc_reply_failed", map[string]any{"request_id": e.RequestID, "err": err})
	}
}

// failPendingRPCs resolves every in-flight call with err. Used on close so
// callers never block past the life of the connection.
func (c *Client) failPendingRPCs(err error) {
	c.rpcMu.Lock()
	pending := c.rpcPending
	c.rpcPending = make(map[string]chan rpcOutcome)
	c.rpcMu.Unlock()
	for _, ch := range pending {
		select {
		case ch <- rpcOutcome{err: err}:
		default:
		}
	}
}
