// Package httpserver implements the single-port Anthropic-shaped HTTP
// surface the bridge presents to local clients: health check, CORS
// preflight, optional API-key gating, and the /v1/messages translation
// path.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fabstir/chainbridge/pkg/apierror"
	"github.com/fabstir/chainbridge/pkg/converter"
	"github.com/fabstir/chainbridge/pkg/schema"
	"github.com/fabstir/chainbridge/pkg/telemetry"
	"github.com/fabstir/chainbridge/pkg/toolcallparser"
)

// Bridge is the narrow surface the server needs from the session lifecycle
// manager. Defined here, from the server's point of view, so tests can pass
// a fake without importing pkg/session.
type Bridge interface {
	SendPrompt(ctx context.Context, prompt string, onToken func(string), images []schema.ImageAttachment) (schema.SendPromptResult, error)
}

// Server is the bridge's HTTP surface. It holds no mutable state of its own
// beyond what chi's router needs; all session state lives in Bridge.
type Server struct {
	bridge Bridge
	apiKey string
	tracer trace.Tracer
	router chi.Router
	http   *http.Server
}

// Config is what New needs to build a Server.
type Config struct {
	Port   int
	APIKey string // empty means "no key configured"
}

// New builds a Server wired to bridge, with routes and middleware
// installed.
func New(cfg Config, bridge Bridge, settings *telemetry.Settings) *Server {
	s := &Server{
		bridge: bridge,
		apiKey: cfg.APIKey,
		tracer: telemetry.GetTracer(settings),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "OPTIONS", "GET"},
		AllowedHeaders: []string{"content-type", "x-api-key"},
		MaxAge:         300,
	}))
	// The cors middleware only decorates preflights and requests carrying an
	// Origin header; every other response gets the same headers here.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
			h.Set("Access-Control-Allow-Headers", "content-type, x-api-key")
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", s.handleHealth)
	r.Post("/v1/messages", s.handleMessages)
	r.Get("/v1/messages", s.handleMethodNotAllowed)
	// The cors middleware short-circuits real preflights (OPTIONS with
	// Access-Control-Request-Method); this route keeps a bare OPTIONS probe
	// answering 200 as well.
	r.Options("/v1/messages", s.handleOptions)
	r.NotFound(s.handleNotFound)

	s.router = r
	s.http = &http.Server{
		Addr:    portAddr(cfg.Port),
		Handler: r,
	}
	return s
}

// portAddr renders a listen port as a ":PORT" address string.
func portAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}

// ServeHTTP lets Server itself be used directly as an http.Handler, useful
// for tests that drive it with httptest.NewServer/NewRecorder without
// touching ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP listener.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierror.WriteHTTP(w, apierror.New(apierror.KindMethodNotAllowed, "GET is not supported on /v1/messages"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	apierror.WriteHTTP(w, apierror.New(apierror.KindNotFound, "no such route"))
}

// handleMessages implements the POST /v1/messages request lifecycle:
// authorize, decode, convert, send, parse, assemble.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "httpserver.messages")
	defer span.End()

	if !s.authorize(r) {
		apierror.WriteHTTP(w, apierror.New(apierror.KindAuthError, "missing or invalid x-api-key"))
		return
	}

	var req schema.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteHTTP(w, apierror.Wrap(apierror.KindInvalidRequest, "invalid JSON body", err))
		return
	}
	if err := validateRequest(req); err != nil {
		apierror.WriteHTTP(w, err)
		return
	}

	result, err := converter.ConvertMessages(req.Messages, req.System, req.Tools)
	if err != nil {
		apierror.WriteHTTP(w, err)
		return
	}

	onToken := func(tok string) {
		log.Printf("v1/messages: token received (%d bytes)", len(tok))
	}

	sendResult, err := s.bridge.SendPrompt(ctx, result.Prompt, onToken, result.Images)
	if err != nil {
		apierror.WriteHTTP(w, err)
		return
	}

	response := assembleResponse(req.Model, sendResult, result.Prompt)
	span.SetAttributes(
		attribute.String("bridge.model.id", req.Model),
		attribute.Int("bridge.usage.output_tokens", sendResult.TokenUsage.TotalTokens),
	)
	writeJSON(w, http.StatusOK, response)
}

// authorize enforces the API-key rule: no configured key means the header
// is ignored either way; a configured key requires an exact match.
func (s *Server) authorize(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	return r.Header.Get("x-api-key") == s.apiKey
}

// validateRequest enforces the Anthropic request's required fields ahead
// of conversion.
func validateRequest(req schema.Request) error {
	if req.Model == "" {
		return apierror.New(apierror.KindInvalidRequest, "model is required")
	}
	if req.MaxTokens <= 0 {
		return apierror.New(apierror.KindInvalidRequest, "max_tokens is required")
	}
	if len(req.Messages) == 0 {
		return apierror.New(apierror.KindInvalidRequest, "messages must not be empty")
	}
	return nil
}

// assembleResponse builds the Anthropic response from the bridge's buffered
// text, splitting it through a fresh ToolCallParser into ordered text/
// tool_call segments and mapping each into a content block. Each request
// gets its own parser instance; parsers are never shared.
func assembleResponse(model string, result schema.SendPromptResult, prompt string) schema.Response {
	parser := toolcallparser.New()
	events := parser.Feed(result.Response)
	events = append(events, parser.Flush()...)

	content, stopReason := blocksFromEvents(events)

	return schema.Response{
		ID:           "msg_" + uuid.NewString(),
		Type:         "message",
		Role:         schema.RoleAssistant,
		Model:        model,
		Content:      content,
		StopReason:   stopReason,
		StopSequence: nil,
		Usage: schema.Usage{
			InputTokens:  converter.EstimateInputTokens(prompt),
			OutputTokens: result.TokenUsage.TotalTokens,
		},
	}
}

// blocksFromEvents coalesces consecutive text events into single text
// blocks and maps tool_call events to tool_use blocks, deriving the stop
// reason from whether the last emitted event was a tool call.
func blocksFromEvents(events []toolcallparser.Event) ([]schema.ContentBlock, schema.StopReason) {
	var blocks []schema.ContentBlock
	var textBuf string
	flushText := func() {
		if textBuf != "" {
			blocks = append(blocks, schema.TextBlock{Text: textBuf})
			textBuf = ""
		}
	}

	lastWasToolCall := false
	for _, ev := range events {
		switch e := ev.(type) {
		case toolcallparser.TextEvent:
			textBuf += e.Text
			lastWasToolCall = false
		case toolcallparser.ToolCallEvent:
			flushText()
			blocks = append(blocks, schema.ToolUseBlock{
				ID:    "call_" + uuid.NewString(),
				Name:  e.Name,
				Input: e.Arguments,
			})
			lastWasToolCall = true
		}
	}
	flushText()

	stopReason := schema.StopReasonEndTurn
	if lastWasToolCall {
		stopReason = schema.StopReasonToolUse
	}
	return blocks, stopReason
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
