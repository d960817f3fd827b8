// Package gateway exposes the tool surface over MCP stdio and applies
// the cross-cutting concerns every call shares: per-client rate limiting
// and trace spans.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/session"
	"github.com/nextlevelbuilder/brainstorm/internal/storage"
	"github.com/nextlevelbuilder/brainstorm/internal/tools"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

// Server wraps the MCP server with the shared middleware.
type Server struct {
	mcp     *server.MCPServer
	limiter *ClientLimiter
	tracer  trace.Tracer
}

// New builds the MCP server and registers every tool behind the
// rate-limit and tracing wrapper.
func New(store *storage.Store, cfg *config.Config, version string) *Server {
	s := &Server{
		limiter: NewClientLimiter(cfg.Gateway.RateLimitRPM, cfg.Gateway.RateBurst),
		tracer:  otel.Tracer("brainstorm/gateway"),
	}
	s.mcp = server.NewMCPServer("brainstorm", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range tools.New(store, cfg, version).Tools() {
		s.mcp.AddTool(t.Tool, s.wrap(t.Tool.Name, t.Handler))
	}
	return s
}

// ServeStdio runs the server on stdin/stdout until the client hangs up.
// Logs must already be pointed at stderr: stdout carries the protocol.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// wrap applies rate limiting and a span around one tool handler.
func (s *Server) wrap(name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		attrs := []attribute.KeyValue{attribute.String("tool.name", name)}
		if projectID := req.GetString("project_id", ""); projectID != "" {
			attrs = append(attrs, attribute.String("project_id", projectID))
		}
		ctx, span := s.tracer.Start(ctx, "tool."+name, trace.WithAttributes(attrs...))
		defer span.End()

		key := s.limitKey(req)
		if !s.limiter.Allow(key) {
			slog.Warn("tool.rate_limited", "tool", name, "client", key)
			span.SetStatus(codes.Error, protocol.ErrRateLimited)
			return rateLimitedResult(), nil
		}

		res, err := next(ctx, req)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		if res != nil && res.IsError {
			span.SetStatus(codes.Error, "tool error")
		}
		slog.Debug("tool.call", "tool", name, "client", key)
		return res, nil
	}
}

// limitKey derives the rate-limit bucket for a call. Callers that cannot
// be identified share one bucket rather than bypassing the limiter.
func (s *Server) limitKey(req mcp.CallToolRequest) string {
	wd := req.GetString("working_directory", "")
	if wd == "" {
		if cwd, err := os.Getwd(); err == nil {
			wd = cwd
		}
	}
	id, err := session.ResolveClientID(os.Getenv(session.EnvClientID), wd)
	if err != nil {
		return "anonymous"
	}
	return id
}

func rateLimitedResult() *mcp.CallToolResult {
	body, err := json.MarshalIndent(protocol.ErrorEnvelope{Error: protocol.ErrorBody{
		Code:    protocol.ErrRateLimited,
		Message: "too many calls; slow down and retry shortly",
	}}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(`{"error":{"code":%q}}`, protocol.ErrRateLimited))
	}
	return mcp.NewToolResultError(string(body))
}
