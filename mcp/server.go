// Package mcp exposes a facilitator as Model Context Protocol tools, so agents
// can verify and settle x402 payments without speaking the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	x402 "github.com/nacorid/x402-facilitator"
	"github.com/nacorid/x402-facilitator/encoding"
	"github.com/nacorid/x402-facilitator/facilitator"
	"github.com/nacorid/x402-facilitator/validation"
)

// Tool names.
const (
	ToolVerify    = "verify"
	ToolSettle    = "settle"
	ToolSupported = "supported"
)

// Argument names shared by the verify and settle tools.
const (
	argPayload      = "paymentPayload"
	argRequirements = "paymentRequirements"
)

// shutdownTimeout bounds graceful shutdown of open MCP sessions.
var shutdownTimeout = 10 * time.Second

// ErrInvalidArguments indicates a tool call whose arguments cannot be decoded.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Server wraps an MCP server whose tools call a facilitator.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	facilitator facilitator.Interface
	logger      *slog.Logger
}

type Option func(*Server)

// WithLogger sets the logger for tool calls.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer registers the verify, settle and supported tools for fac.
func NewServer(name, version string, fac facilitator.Interface, opts ...Option) *Server {
	s := &Server{
		mcpServer:   mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		facilitator: fac,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	paymentArgs := []mcpproto.ToolOption{
		mcpproto.WithString(argPayload, mcpproto.Required(),
			mcpproto.Description("Payment payload as JSON, or the base64 X-PAYMENT header value")),
		mcpproto.WithString(argRequirements, mcpproto.Required(),
			mcpproto.Description("Payment requirements the payload was signed for, as JSON")),
	}

	s.mcpServer.AddTool(mcpproto.NewTool(ToolVerify,
		append([]mcpproto.ToolOption{
			mcpproto.WithDescription("Verify an x402 exact-scheme payment without settling it"),
		}, paymentArgs...)...,
	), s.handleVerify)

	s.mcpServer.AddTool(mcpproto.NewTool(ToolSettle,
		append([]mcpproto.ToolOption{
			mcpproto.WithDescription("Verify and settle an x402 exact-scheme payment on-chain"),
		}, paymentArgs...)...,
	), s.handleSettle)

	s.mcpServer.AddTool(mcpproto.NewTool(ToolSupported,
		mcpproto.WithDescription("List the scheme/network pairs this facilitator settles"),
	), s.handleSupported)

	return s
}

// Handler returns the streamable HTTP transport for the server.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

// ListenAndServe serves the MCP endpoint on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) handleVerify(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	payload, requirements, err := paymentArguments(req)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	resp, err := s.facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		s.logger.ErrorContext(ctx, "verify tool failed", "error", err)
		return mcpproto.NewToolResultError(fmt.Sprintf("verify failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleSettle(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	payload, requirements, err := paymentArguments(req)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	resp, err := s.facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		s.logger.ErrorContext(ctx, "settle tool failed", "error", err)
		return mcpproto.NewToolResultError(fmt.Sprintf("settle failed: %v", err)), nil
	}
	if !resp.Success {
		s.logger.InfoContext(ctx, "settlement rejected", "reason", resp.ErrorReason, "transaction", resp.Transaction)
	}
	return jsonResult(resp)
}

func (s *Server) handleSupported(ctx context.Context, _ mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	resp, err := s.facilitator.Supported(ctx)
	if err != nil {
		return mcpproto.NewToolResultError(fmt.Sprintf("supported failed: %v", err)), nil
	}
	return jsonResult(resp)
}

// paymentArguments decodes and envelope-checks the verify/settle arguments.
func paymentArguments(req mcpproto.CallToolRequest) (x402.PaymentPayload, x402.PaymentRequirements, error) {
	var (
		payload      x402.PaymentPayload
		requirements x402.PaymentRequirements
	)
	args := req.GetArguments()

	rawPayload, ok := args[argPayload].(string)
	if !ok || rawPayload == "" {
		return payload, requirements, fmt.Errorf("%w: %s is required", ErrInvalidArguments, argPayload)
	}
	rawRequirements, ok := args[argRequirements].(string)
	if !ok || rawRequirements == "" {
		return payload, requirements, fmt.Errorf("%w: %s is required", ErrInvalidArguments, argRequirements)
	}

	if strings.HasPrefix(strings.TrimSpace(rawPayload), "{") {
		if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
			return payload, requirements, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, argPayload, err)
		}
	} else {
		decoded, err := encoding.DecodePayment(rawPayload)
		if err != nil {
			return payload, requirements, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, argPayload, err)
		}
		payload = decoded
	}

	if err := json.Unmarshal([]byte(rawRequirements), &requirements); err != nil {
		return payload, requirements, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, argRequirements, err)
	}

	if err := validation.ValidateRequest(payload.X402Version, payload, requirements); err != nil {
		return payload, requirements, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return payload, requirements, nil
}

func jsonResult(v interface{}) (*mcpproto.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcpproto.NewToolResultText(string(data)), nil
}
