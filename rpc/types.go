// Package rpc exposes the marketplace over a JSON-RPC 2.0 HTTP endpoint
// plus a few read-only REST views.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/tolmarket/accounts"
	"github.com/tolelom/tolmarket/assets"
	"github.com/tolelom/tolmarket/marketplace"
	"github.com/tolelom/tolmarket/vm"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
)

// Application error codes. Each marketplace error kind has its own code so
// clients can branch without parsing messages.
const (
	CodeNotFound            = -32001
	CodeTxRejected          = -32002
	CodeForbidden           = -32010
	CodeNotListed           = -32011
	CodeAlreadyListed       = -32012
	CodeInsufficientPayment = -32013
	CodeInvalidFeeRate      = -32014
	CodeTransferFailed      = -32015
	CodeSettlementFailed    = -32016
)

var errorCodes = []struct {
	err  error
	code int
}{
	{marketplace.ErrUnauthorized, CodeForbidden},
	{marketplace.ErrNotListed, CodeNotListed},
	{marketplace.ErrAlreadyListed, CodeAlreadyListed},
	{marketplace.ErrInsufficientPayment, CodeInsufficientPayment},
	{marketplace.ErrInvalidFeeRate, CodeInvalidFeeRate},
	{marketplace.ErrTransferFailed, CodeTransferFailed},
	{marketplace.ErrSettlementFailed, CodeSettlementFailed},
	{assets.ErrAssetNotFound, CodeNotFound},
	{assets.ErrCollectionNotFound, CodeNotFound},
	{vm.ErrBadSignature, CodeTxRejected},
	{vm.ErrWrongChain, CodeTxRejected},
	{vm.ErrTxExpired, CodeTxRejected},
	{vm.ErrTxFuture, CodeTxRejected},
	{vm.ErrDuplicateTx, CodeTxRejected},
	{vm.ErrUnknownTxType, CodeTxRejected},
	{vm.ErrBadPayload, CodeInvalidParams},
	{accounts.ErrBadNonce, CodeTxRejected},
}

// errorCode maps err to the most specific code; settlement and transfer
// failures win over the underlying cause they wrap.
func errorCode(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternalError
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func errorResponse(id any, err error) Response {
	return errResponse(id, errorCode(err), err.Error())
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
