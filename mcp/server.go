package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	paygate "github.com/paygate-labs/paygate-go"
)

// ResourcePrefix namespaces tool resource ids in the guard's registry.
const ResourcePrefix = "mcp://tools/"

// Server wraps an MCP server and adds paygate payment protection to
// selected tools. Free and payable tools can be mixed on one server.
type Server struct {
	mcpServer *mcpserver.MCPServer
	guard     *paygate.Guard
}

// NewServer creates an MCP server whose payable tools are gated by the
// given guard.
func NewServer(name, version string, guard *paygate.Guard) *Server {
	return &Server{
		mcpServer: mcpserver.NewMCPServer(name, version),
		guard:     guard,
	}
}

// AddTool adds a free tool (no payment required).
func (s *Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool adds a paid tool. The resource is registered with the
// guard under "mcp://tools/<name>" and the handler is wrapped with the full
// verify/execute/price/settle flow.
func (s *Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, pricing paygate.Pricing, accepts ...paygate.PlanOption) error {
	if len(accepts) == 0 {
		return fmt.Errorf("at least one plan option must be provided for payable tool %s", tool.Name)
	}
	resourceID := ResourcePrefix + tool.Name
	err := s.guard.Registry().Register(paygate.Resource{
		ID:          resourceID,
		Description: tool.Description,
		Pricing:     pricing,
		Accepts:     accepts,
	})
	if err != nil {
		return fmt.Errorf("invalid payable tool %s: %w", tool.Name, err)
	}
	s.mcpServer.AddTool(tool, s.wrapHandler(resourceID, handler))
	return nil
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

// Start serves the MCP server on the given address.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// wrapHandler runs the tool through the guard. The tool's text output feeds
// dynamic pricing; a tool error result counts as an execution failure and
// is never charged.
func (s *Server) wrapHandler(resourceID string, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		var metaFields map[string]any
		if req.Params.Meta != nil {
			metaFields = req.Params.Meta.AdditionalFields
		}
		cred, err := credentialFromMeta(metaFields)
		if err != nil {
			return errorResult("malformed credential in _meta"), nil
		}

		call := paygate.Call{
			ResourceID: resourceID,
			Credential: cred,
			Inputs:     req.GetArguments(),
		}

		var toolResult *mcpproto.CallToolResult
		outcome := s.guard.Do(ctx, call, func(ctx context.Context, _ map[string]any) (any, error) {
			result, err := handler(ctx, req)
			if err != nil {
				return nil, err
			}
			if result != nil && result.IsError {
				return nil, fmt.Errorf("%w: %s", paygate.ErrExecutionFailed, resultText(result))
			}
			toolResult = result
			return resultText(result), nil
		})

		switch outcome.Kind {
		case paygate.OutcomeRejected:
			return paymentRequiredResult(outcome.Required), nil

		case paygate.OutcomeFailed:
			switch outcome.Failure {
			case paygate.FailureExecution:
				// The tool failed on its own terms; surface its error
				// unchanged. No settlement happened.
				return nil, outcome.Err
			default:
				return errorResult(string(outcome.Failure) + ": " + outcome.Err.Error()), nil
			}

		default:
			attachReceipt(toolResult, outcome.Receipt)
			return toolResult, nil
		}
	}
}

// paymentRequiredResult builds the structured error block this transport
// uses instead of a 402 status: the PaymentRequired payload as JSON text
// plus a machine-readable _meta entry.
func paymentRequiredResult(pr *paygate.PaymentRequired) *mcpproto.CallToolResult {
	body, err := json.Marshal(pr)
	if err != nil {
		return errorResult("payment required")
	}
	result := errorResult(string(body))
	result.Meta = &mcpproto.Meta{AdditionalFields: map[string]any{
		MetaKeyRequired: pr,
	}}
	return result
}

func errorResult(text string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		IsError: true,
		Content: []mcpproto.Content{mcpproto.NewTextContent(text)},
	}
}

func attachReceipt(result *mcpproto.CallToolResult, receipt *paygate.SettlementReceipt) {
	if result == nil || receipt == nil {
		return
	}
	if result.Meta == nil {
		result.Meta = &mcpproto.Meta{}
	}
	if result.Meta.AdditionalFields == nil {
		result.Meta.AdditionalFields = make(map[string]any)
	}
	result.Meta.AdditionalFields[MetaKeyReceipt] = receipt
}

// resultText concatenates the text content blocks of a tool result.
func resultText(result *mcpproto.CallToolResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(mcpproto.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
