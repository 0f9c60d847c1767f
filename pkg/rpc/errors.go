package rpc

import (
	"fmt"
)

// Reference: https://www.jsonrpc.org/specification#error_object
const (
	parseErrorCode     = -32700
	invalidRequestCode = -32600
	methodNotFoundCode = -32601
	invalidParamsCode  = -32602
	internalErrorCode  = -32603

	// Reference: https://github.com/solana-labs/solana/blob/71e9958e061493d7545bd28d4ac7a85aaed6ffbb/client/src/rpc_custom_error.rs#L10
	sendTransactionPreflightFailureCode = -32002
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func newInvalidParamsError(format string, args ...interface{}) *Error {
	return &Error{
		Code:    invalidParamsCode,
		Message: "Invalid params: " + fmt.Sprintf(format, args...),
	}
}

func newInternalError(err error) *Error {
	return &Error{
		Code:    internalErrorCode,
		Message: "Internal error: " + err.Error(),
	}
}
