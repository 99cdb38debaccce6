// Package webfetch looks up precedents on the web through an MCP server that
// exposes a "fetch" tool.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"

	"legalia-backend/lexicon"
	"legalia-backend/logging"

	"github.com/microcosm-cc/bluemonday"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// FetchTool is the MCP tool called for every source.
	FetchTool = "fetch"

	defaultMaxLength = 10000
	descriptionLimit = 300
	queryPrefix      = "jurisprudence"
)

// ToolCaller is the part of an MCP client session used here.
type ToolCaller interface {
	CallTool(ctx context.Context, params *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error)
}

// Result is one fetched page summarized for precedent search.
type Result struct {
	Title       string
	URL         string
	Description string
	Relevance   float64
}

// Client searches configured legal sources through the fetch tool.
type Client struct {
	session   ToolCaller
	sources   []string
	lex       *lexicon.Lexicon
	policy    *bluemonday.Policy
	maxLength int
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLexicon replaces the embedded lexicon
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(c *Client) {
		c.lex = lex
	}
}

// WithMaxLength sets the max_length argument passed to the fetch tool
func WithMaxLength(n int) Option {
	return func(c *Client) {
		c.maxLength = n
	}
}

// New creates a client. sources are URL templates containing a {query} placeholder.
func New(session ToolCaller, sources []string, opts ...Option) *Client {
	c := &Client{
		session:   session,
		sources:   sources,
		lex:       lexicon.Default(),
		policy:    bluemonday.StrictPolicy(),
		maxLength: defaultMaxLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.New("webfetch")
	}
	return c
}

// Connect opens an MCP session over streamable HTTP when endpoint is set,
// otherwise by starting command and speaking MCP over its stdio.
func Connect(ctx context.Context, endpoint, command string) (*sdkmcp.ClientSession, error) {
	var transport sdkmcp.Transport
	switch {
	case endpoint != "":
		transport = &sdkmcp.StreamableClientTransport{Endpoint: endpoint}
	case command != "":
		fields := strings.Fields(command)
		transport = &sdkmcp.CommandTransport{Command: exec.Command(fields[0], fields[1:]...)}
	default:
		return nil, errors.New("webfetch: no MCP endpoint or command configured")
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "legalia-backend", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("webfetch: connect: %w", err)
	}
	return session, nil
}

// OptimizeQuery prefixes the query with a legal term unless it already has one.
func (c *Client) OptimizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if c.lex.HasLegalTerm(query) {
		return query
	}
	return queryPrefix + " " + query
}

// Search fetches every source for query and returns at most limit results.
// A failing source is skipped; an error is returned only when every source failed.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if len(c.sources) == 0 || limit <= 0 {
		return nil, nil
	}

	optimized := c.OptimizeQuery(query)
	var (
		results []Result
		errs    []error
	)
	for _, source := range c.sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		target := strings.ReplaceAll(source, "{query}", url.QueryEscape(optimized))
		text, err := c.fetch(ctx, target)
		if err != nil {
			c.logger.Warn("web source failed, skipping", "url", target, "error", err)
			errs = append(errs, err)
			continue
		}
		if text == "" {
			continue
		}

		results = append(results, c.summarize(target, text))
		if len(results) >= limit {
			break
		}
	}

	if len(results) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("webfetch: all sources failed: %w", errors.Join(errs...))
	}
	return results, nil
}

func (c *Client) fetch(ctx context.Context, target string) (string, error) {
	res, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name: FetchTool,
		Arguments: map[string]any{
			"url":        target,
			"max_length": c.maxLength,
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			b.WriteString(tc.Text)
			b.WriteString(" ")
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool error: %s", strings.TrimSpace(b.String()))
	}
	return c.clean(b.String()), nil
}

// clean strips markup and collapses whitespace.
func (c *Client) clean(raw string) string {
	return strings.Join(strings.Fields(c.policy.Sanitize(raw)), " ")
}

func (c *Client) summarize(target, text string) Result {
	title := "Web precedent"
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		title += " - " + u.Host
	}

	description := text
	if runes := []rune(text); len(runes) > descriptionLimit {
		description = string(runes[:descriptionLimit]) + "..."
	}

	return Result{
		Title:       title,
		URL:         target,
		Description: description,
		Relevance:   c.Relevance(description),
	}
}

// Relevance scores text by the legal terms it mentions, from 0.5 up to 1.0.
func (c *Client) Relevance(text string) float64 {
	score := 0.5 + 0.1*float64(lexicon.CountTerms(text, c.lex.LegalTerms))
	if score > 1.0 {
		return 1.0
	}
	return score
}
