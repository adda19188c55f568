// Package toolserver is the protocol client for the remote tool servers:
// discovery, invocation and normalization of results.
//
// Two servers exist. The storefront server lives at a fixed path under the
// shop URL and needs no authentication. The customer-account server is
// resolved at runtime through a well-known discovery document, cached per
// conversation, and every call to it carries the conversation's OAuth
// token.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vadf/assistant/internal/config"
	"github.com/vadf/assistant/internal/log"
	"github.com/vadf/assistant/internal/store"
)

// ServerRef identifies one of the two tool servers.
type ServerRef int

const (
	Storefront ServerRef = iota
	CustomerAccount
)

func (r ServerRef) String() string {
	switch r {
	case Storefront:
		return "storefront"
	case CustomerAccount:
		return "customer-account"
	default:
		return fmt.Sprintf("ServerRef(%d)", int(r))
	}
}

// Descriptor describes one discovered tool and the server it came from.
// InputSchema carries whatever schema value the server declared (the wire
// type is open); it is handed to the model's function declarations as-is.
type Descriptor struct {
	Name        string
	Description string
	InputSchema any
	Server      ServerRef
}

// DiscoveryError wraps a connect or listing failure. Callers degrade to an
// empty tool set instead of failing the turn.
type DiscoveryError struct {
	Server ServerRef
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering tools on %s: %v", e.Server, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// EndpointCache caches the resolved customer-account endpoint per
// conversation. Satisfied by store.Cache.
type EndpointCache interface {
	Endpoint(ctx context.Context, conversationID uuid.UUID) (string, error)
	PutEndpoint(ctx context.Context, conversationID uuid.UUID, endpoint string) error
}

// Client dials tool servers for a shop.
type Client struct {
	shopURL        string
	storefrontPath string
	wellKnownPath  string
	httpClient     *http.Client
	endpoints      EndpointCache
	logger         log.Logger
}

// NewClient creates a Client. The tool timeout from the configuration
// bounds every protocol call, discovery included.
func NewClient(cfg *config.Config, endpoints EndpointCache, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		shopURL:        strings.TrimRight(cfg.ShopURL, "/"),
		storefrontPath: cfg.StorefrontMCPPath,
		wellKnownPath:  cfg.WellKnownPath,
		httpClient:     &http.Client{Timeout: cfg.ToolTimeout},
		endpoints:      endpoints,
		logger:         logger,
	}
}

// Dial connects to one tool server for the duration of a turn. token is
// only used for the customer-account server and may be empty for the
// storefront. Failures come back as *DiscoveryError.
func (c *Client) Dial(ctx context.Context, conversationID uuid.UUID, ref ServerRef, token string) (*Conn, error) {
	endpoint, err := c.resolveEndpoint(ctx, conversationID, ref)
	if err != nil {
		return nil, &DiscoveryError{Server: ref, Err: err}
	}

	httpClient := c.httpClient
	if ref == CustomerAccount && token != "" {
		httpClient = &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: &bearerTransport{token: token, base: c.httpClient.Transport},
		}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "vadf-assistant",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		return nil, &DiscoveryError{Server: ref, Err: err}
	}

	c.logger.Debug("connected to tool server", "server", ref, "endpoint", endpoint)
	return &Conn{ref: ref, session: session}, nil
}

// resolveEndpoint returns the server URL. The customer-account endpoint is
// looked up in the cache first, then through the well-known document.
func (c *Client) resolveEndpoint(ctx context.Context, conversationID uuid.UUID, ref ServerRef) (string, error) {
	if ref == Storefront {
		return c.shopURL + c.storefrontPath, nil
	}

	endpoint, err := c.endpoints.Endpoint(ctx, conversationID)
	if err == nil {
		return endpoint, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("endpoint cache lookup failed", "conversation_id", conversationID, "error", err)
	}

	endpoint, err = c.discoverCustomerEndpoint(ctx)
	if err != nil {
		return "", err
	}

	if err := c.endpoints.PutEndpoint(ctx, conversationID, endpoint); err != nil {
		// Next turn re-discovers; the current one proceeds.
		c.logger.Warn("caching endpoint failed", "conversation_id", conversationID, "error", err)
	}
	return endpoint, nil
}

func (c *Client) discoverCustomerEndpoint(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.shopURL+c.wellKnownPath, nil)
	if err != nil {
		return "", fmt.Errorf("building well-known request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching well-known document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("well-known document returned %d", resp.StatusCode)
	}

	var doc struct {
		MCPEndpoint string `json:"mcp_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decoding well-known document: %w", err)
	}
	if doc.MCPEndpoint == "" {
		return "", errors.New("well-known document carries no mcp_endpoint")
	}
	return doc.MCPEndpoint, nil
}

// Conn is one live session with a tool server.
type Conn struct {
	ref     ServerRef
	session *mcp.ClientSession
}

// Ref returns which server this connection talks to.
func (c *Conn) Ref() ServerRef { return c.ref }

// Tools lists the server's callable tools.
func (c *Conn) Tools(ctx context.Context) ([]Descriptor, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, &DiscoveryError{Server: c.ref, Err: err}
	}

	descriptors := make([]Descriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Server:      c.ref,
		})
	}
	return descriptors, nil
}

// Call invokes a tool and classifies the result.
func (c *Conn) Call(ctx context.Context, name string, args map[string]any) (Outcome, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("calling tool %s on %s: %w", name, c.ref, err)
	}
	return Classify(result), nil
}

// Close terminates the session.
func (c *Conn) Close() error {
	return c.session.Close()
}

// bearerTransport injects the customer token into every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return base.RoundTrip(clone)
}
