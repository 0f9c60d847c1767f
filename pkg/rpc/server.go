// Package rpc serves the subset of the Solana JSON-RPC API that wallets and
// the solana.Client need to use a Bank over HTTP.
package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/metrics"
	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/runtime"
)

const (
	jsonRPCVersion = "2.0"

	metricsStructName = "rpc.server"
)

// Bank is the ledger the server exposes.
type Bank interface {
	ProcessTransaction(ctx context.Context, tx solana.Transaction) (*runtime.TransactionResult, error)
	Airdrop(ctx context.Context, to ed25519.PublicKey, lamports uint64) (solana.Signature, error)
	GetAccount(ctx context.Context, key ed25519.PublicKey) (*ledger.Record, error)
	GetProgramAccounts(ctx context.Context, program ed25519.PublicKey) ([]*ledger.Record, error)
	LatestBlockhash() solana.Blockhash
	LastValidSlot() uint64
	Slot() uint64
	MinimumBalanceForRentExemption(dataSize uint64) uint64
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type methodHandler func(ctx context.Context, params []json.RawMessage) (interface{}, *Error)

type Server struct {
	log  *logrus.Entry
	conf *conf
	bank Bank
	app  *fiber.App

	methods map[string]methodHandler
}

func NewServer(bank Bank, configProvider ConfigProvider) *Server {
	s := &Server{
		log:  logrus.StandardLogger().WithField("type", "rpc/server"),
		conf: configProvider(),
		bank: bank,
	}

	s.methods = map[string]methodHandler{
		"getAccountInfo":                    s.getAccountInfo,
		"getBalance":                        s.getBalance,
		"getHealth":                         s.getHealth,
		"getLatestBlockhash":                s.getLatestBlockhash,
		"getMinimumBalanceForRentExemption": s.getMinimumBalanceForRentExemption,
		"getProgramAccounts":                s.getProgramAccounts,
		"getSlot":                           s.getSlot,
		"requestAirdrop":                    s.requestAirdrop,
		"sendTransaction":                   s.sendTransaction,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "custody-rpc",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	s.app.Post("/", s.handle)
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	return s
}

// ListenAndServe serves on address until Shutdown is called.
func (s *Server) ListenAndServe(address string) error {
	return s.app.Listen(address)
}

// Serve serves on an existing listener until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handle(c *fiber.Ctx) error {
	var req request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.JSON(&response{
			JSONRPC: jsonRPCVersion,
			ID:      json.RawMessage("null"),
			Error:   &Error{Code: parseErrorCode, Message: "Parse error"},
		})
	}

	resp := &response{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
	}
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	result, rpcErr := s.dispatch(c.UserContext(), &req)
	if rpcErr != nil {
		resp.Error = rpcErr
		return c.JSON(resp)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		resp.Error = newInternalError(err)
		return c.JSON(resp)
	}
	resp.Result = encoded

	return c.JSON(resp)
}

func (s *Server) dispatch(ctx context.Context, req *request) (interface{}, *Error) {
	log := s.log.WithFields(logrus.Fields{
		"method":     "dispatch",
		"rpc_method": req.Method,
	})

	if req.JSONRPC != jsonRPCVersion {
		return nil, &Error{Code: invalidRequestCode, Message: "Invalid request"}
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		return nil, &Error{Code: methodNotFoundCode, Message: "Method not found"}
	}

	var params []json.RawMessage
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, newInvalidParamsError("params must be an array")
		}
	}

	tracer := metrics.TraceMethodCall(ctx, metricsStructName, req.Method)
	defer tracer.End()

	result, rpcErr := handler(ctx, params)
	if rpcErr != nil {
		tracer.OnError(rpcErr)
		if rpcErr.Code == internalErrorCode {
			log.WithError(rpcErr).Warn("failure handling request")
		} else {
			log.WithError(rpcErr).Debug("request failed")
		}
	}
	return result, rpcErr
}
