// Package mcp implements fleet.Provider over MCP tool calls.
//
// The fleet platform exposes its data APIs as tools on an MCP server, one
// tool per provider method. The client connects once (stdio child process or
// streamable HTTP) using the official MCP Go SDK and issues a CallTool per
// lookup. Tools take a flat JSON object argument and answer with a single
// text content block holding the JSON encoding of the matching fleet type
// (timestamps in RFC 3339):
//
//	get_swap_history   {driver_id, date_range} → [{at, station, battery_id}, ...]
//	find_nearest_station {location}            → {name, address}
//	find_nearest_dsk   {location}              → {name, address}
//	check_availability {location}              → {station, charged_batteries}
//	check_subscription {driver_id}             → {status, expires_on}
//	renew_subscription {driver_id}             → {status, expires_on}
//	latest_invoice     {driver_id}             → {period, amount, swaps}
//
// A tool result with IsError set is surfaced as a Go error carrying the
// tool's text output. Clients are safe for concurrent use.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
)

// Compile-time interface checks.
var (
	_ fleet.Provider = (*Client)(nil)
	_ toolCaller     = (*mcpsdk.ClientSession)(nil)
)

const (
	clientName    = "voiceagent-fleet"
	clientVersion = "1.0.0"
)

// Tool names the fleet MCP server is expected to expose.
const (
	toolSwapHistory       = "get_swap_history"
	toolNearestStation    = "find_nearest_station"
	toolNearestDSK        = "find_nearest_dsk"
	toolCheckAvailability = "check_availability"
	toolCheckSubscription = "check_subscription"
	toolRenewSubscription = "renew_subscription"
	toolLatestInvoice     = "latest_invoice"
)

var expectedTools = []string{
	toolSwapHistory,
	toolNearestStation,
	toolNearestDSK,
	toolCheckAvailability,
	toolCheckSubscription,
	toolRenewSubscription,
	toolLatestInvoice,
}

// Transport selects how the MCP server is reached.
type Transport string

const (
	// TransportStdio launches the server as a child process and speaks
	// JSON-RPC over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP talks to an already-running server over the
	// MCP streamable HTTP transport.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// Config describes the MCP server exposing the fleet tools.
type Config struct {
	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the stdio server executable and its arguments, split on
	// spaces. Ignored for streamable-http.
	Command string

	// URL is the streamable-http endpoint. Ignored for stdio.
	URL string

	// Env holds extra environment variables for stdio servers.
	Env map[string]string
}

// toolCaller is the slice of [mcpsdk.ClientSession] the client calls through.
type toolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// Client reaches the fleet platform through an MCP server session.
type Client struct {
	session toolCaller
	closer  func() error
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New connects to the MCP server described by cfg and verifies its tool
// catalogue. Missing expected tools are logged as warnings; the affected
// lookups fail at call time.
//
// ctx bounds both the connect handshake and, for stdio servers, the child
// process lifetime.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, errors.New("fleet mcp: stdio transport requires a command")
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, errors.New("fleet mcp: streamable-http transport requires a url")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, fmt.Errorf("fleet mcp: unknown transport %q", cfg.Transport)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("fleet mcp: connect: %w", err)
	}

	c := &Client{session: session, closer: session.Close, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.checkTools(ctx, session); err != nil {
		_ = session.Close()
		return nil, err
	}
	return c, nil
}

// Close shuts down the server session. For stdio servers this terminates the
// child process.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// checkTools lists the server's tools and warns about missing expected ones.
func (c *Client) checkTools(ctx context.Context, session *mcpsdk.ClientSession) error {
	available := make(map[string]bool)
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("fleet mcp: list tools: %w", err)
		}
		available[tool.Name] = true
	}

	var missing []string
	for _, name := range expectedTools {
		if !available[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		c.log.Warn("fleet MCP server is missing expected tools", "missing", strings.Join(missing, ", "))
	}
	return nil
}

// ─────────────────────────────── Lookups ───────────────────────────────

// GetSwapHistory implements [fleet.Provider].
func (c *Client) GetSwapHistory(ctx context.Context, driverID, dateRange string) ([]fleet.SwapRecord, error) {
	var records []fleet.SwapRecord
	args := map[string]any{"driver_id": driverID, "date_range": dateRange}
	if err := c.call(ctx, toolSwapHistory, args, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindNearestStation implements [fleet.Provider].
func (c *Client) FindNearestStation(ctx context.Context, location string) (fleet.Station, error) {
	var st fleet.Station
	if err := c.call(ctx, toolNearestStation, map[string]any{"location": location}, &st); err != nil {
		return fleet.Station{}, err
	}
	return st, nil
}

// FindNearestDSK implements [fleet.Provider].
func (c *Client) FindNearestDSK(ctx context.Context, location string) (fleet.Station, error) {
	var st fleet.Station
	if err := c.call(ctx, toolNearestDSK, map[string]any{"location": location}, &st); err != nil {
		return fleet.Station{}, err
	}
	return st, nil
}

// CheckAvailability implements [fleet.Provider].
func (c *Client) CheckAvailability(ctx context.Context, location string) (fleet.Availability, error) {
	var av fleet.Availability
	if err := c.call(ctx, toolCheckAvailability, map[string]any{"location": location}, &av); err != nil {
		return fleet.Availability{}, err
	}
	return av, nil
}

// CheckSubscription implements [fleet.Provider].
func (c *Client) CheckSubscription(ctx context.Context, driverID string) (fleet.Subscription, error) {
	var sub fleet.Subscription
	if err := c.call(ctx, toolCheckSubscription, map[string]any{"driver_id": driverID}, &sub); err != nil {
		return fleet.Subscription{}, err
	}
	return sub, nil
}

// RenewSubscription implements [fleet.Provider].
func (c *Client) RenewSubscription(ctx context.Context, driverID string) (fleet.Subscription, error) {
	var sub fleet.Subscription
	if err := c.call(ctx, toolRenewSubscription, map[string]any{"driver_id": driverID}, &sub); err != nil {
		return fleet.Subscription{}, err
	}
	return sub, nil
}

// LatestInvoice implements [fleet.Provider].
func (c *Client) LatestInvoice(ctx context.Context, driverID string) (fleet.Invoice, error) {
	var inv fleet.Invoice
	if err := c.call(ctx, toolLatestInvoice, map[string]any{"driver_id": driverID}, &inv); err != nil {
		return fleet.Invoice{}, err
	}
	return inv, nil
}

// call invokes tool with args and unmarshals its text content into out.
// A Go error from CallTool means transport or protocol failure; a result
// with IsError set is the tool's own failure and is surfaced with its text.
func (c *Client) call(ctx context.Context, tool string, args map[string]any, out any) error {
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("fleet mcp: %s: %w", tool, err)
	}

	text := textContent(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return fmt.Errorf("fleet mcp: %s: %s", tool, text)
	}
	if text == "" {
		return fmt.Errorf("fleet mcp: %s: empty result", tool)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("fleet mcp: %s: decode result: %w", tool, err)
	}
	return nil
}

// textContent concatenates the text blocks of a tool result.
func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// splitCommand splits a command string into executable and arguments,
// e.g. "/bin/fleet-mcp --fixtures" → ("/bin/fleet-mcp", ["--fixtures"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
