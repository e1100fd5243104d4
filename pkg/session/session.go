// Package session implements the bridge's session lifecycle manager: a
// thin, mutable wrapper over two narrow external collaborator interfaces
// (SDK, SessionManager) that lazily starts a paid inference session,
// recovers it exactly once on specific recoverable SDK errors, and accounts
// for token usage. The blockchain/payment SDK itself lives behind those
// interfaces; this package only depends on the boundary they expose.
package session

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/fabstir/chainbridge/pkg/apierror"
	"github.com/fabstir/chainbridge/pkg/chainregistry"
	"github.com/fabstir/chainbridge/pkg/schema"
	"github.com/fabstir/chainbridge/pkg/telemetry"
)

// Recoverable SDK error codes: receiving either means the cached session
// was invalidated server-side and must be recreated.
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionNotActive = "SESSION_NOT_ACTIVE"
)

// SDKError is the shape an external SDK/SessionManager call fails with. The
// Code field drives the recovery decision in SendPrompt; every other code
// is re-raised to the caller unchanged.
type SDKError struct {
	Code    string
	Message string
}

func (e *SDKError) Error() string { return e.Code + ": " + e.Message }

func isRecoverable(err error) bool {
	se, ok := err.(*SDKError)
	if !ok {
		return false
	}
	return se.Code == CodeSessionNotFound || se.Code == CodeSessionNotActive
}

// SDK is the narrow handle the Bridge authenticates through once it has
// been constructed from chain registry parameters.
type SDK interface {
	Authenticate(ctx context.Context, method string, params map[string]interface{}) error
}

// SDKFactory constructs an SDK bound to one chain's connection parameters.
type SDKFactory func(cfg SDKConfig) (SDK, error)

// SDKConfig is the chain-specific construction parameters for an SDK
// instance.
type SDKConfig struct {
	ChainId           int
	RPCURL            string
	ContractAddresses map[string]string
}

// StartSessionParams is what SessionManager.StartSession sends to the
// external SDK.
type StartSessionParams struct {
	ChainId       int
	ModelId       string
	PaymentMethod string
	Encryption    bool
	Host          string // empty means omit, letting the SDK auto-discover
	DepositAmount string
	PricePerToken int
	ProofInterval int
	Duration      int
}

// SessionManager is the narrow external collaborator SessionBridge
// delegates session creation, prompting, and teardown to.
type SessionManager interface {
	StartSession(ctx context.Context, params StartSessionParams) (sessionId int, err error)
	SendPromptStreaming(ctx context.Context, sessionId int, prompt string, onToken func(string), images []schema.ImageAttachment) (string, error)
	GetLastTokenUsage() schema.TokenUsage
	EndSession(ctx context.Context, sessionId int) error
}

// Config is the subset of the bridge's resolved configuration
// SessionBridge needs.
type Config struct {
	PrivateKey    string
	ModelName     string
	ChainId       int
	HostAddress   string
	DepositAmount string
	PricePerToken int
	ProofInterval int
	Duration      int
}

// Bridge is the stateful session lifecycle manager. It is shared across
// concurrent HTTP requests; sessionId access is guarded by mu and session
// creation is collapsed through group so concurrent callers await a single
// in-flight StartSession.
type Bridge struct {
	cfg      Config
	registry *chainregistry.Registry
	newSDK   SDKFactory
	sm       SessionManager
	tracer   trace.Tracer

	mu        sync.Mutex
	sdk       SDK
	sessionId *int
	group     singleflight.Group
}

// New builds a Bridge. Nothing is constructed or connected until
// Initialize runs.
func New(cfg Config, registry *chainregistry.Registry, newSDK SDKFactory, sm SessionManager, settings *telemetry.Settings) *Bridge {
	return &Bridge{
		cfg:      cfg,
		registry: registry,
		newSDK:   newSDK,
		sm:       sm,
		tracer:   telemetry.GetTracer(settings),
	}
}

// Initialize resolves the configured chain, constructs the SDK, and
// authenticates with the configured private key.
func (b *Bridge) Initialize(ctx context.Context) error {
	_, err := telemetry.RecordSpan(ctx, b.tracer, telemetry.SpanOptions{
		Name:        "session.initialize",
		Attributes:  telemetry.GetBaseAttributes(b.cfg.ModelName, b.cfg.ChainId),
		EndWhenDone: true,
	}, func(ctx context.Context, span trace.Span) (struct{}, error) {
		chain, err := b.registry.Resolve(b.cfg.ChainId)
		if err != nil {
			return struct{}{}, apierror.Wrap(apierror.KindConfigError, "unable to resolve chain", err)
		}

		sdk, err := b.newSDK(SDKConfig{
			ChainId:           chain.ChainId,
			RPCURL:            chain.RPCURL,
			ContractAddresses: chain.ContractAddresses,
		})
		if err != nil {
			return struct{}{}, apierror.Wrap(apierror.KindUpstreamError, "unable to construct SDK", err)
		}

		if err := sdk.Authenticate(ctx, "privatekey", map[string]interface{}{"privateKey": b.cfg.PrivateKey}); err != nil {
			return struct{}{}, apierror.Wrap(apierror.KindAuthError, "SDK authentication failed", err)
		}

		b.mu.Lock()
		b.sdk = sdk
		b.mu.Unlock()
		return struct{}{}, nil
	})
	return err
}

// cachedSessionId returns the live session id, if any.
func (b *Bridge) cachedSessionId() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionId == nil {
		return 0, false
	}
	return *b.sessionId, true
}

func (b *Bridge) setSessionId(id int) {
	b.mu.Lock()
	b.sessionId = &id
	b.mu.Unlock()
}

func (b *Bridge) clearSessionId() {
	b.mu.Lock()
	b.sessionId = nil
	b.mu.Unlock()
}

// EnsureSession returns the cached session id, creating one if needed.
// Concurrent callers collapse onto a single in-flight StartSession call via
// singleflight rather than racing and discarding losers.
func (b *Bridge) EnsureSession(ctx context.Context) (int, error) {
	if id, ok := b.cachedSessionId(); ok {
		return id, nil
	}

	v, err, _ := b.group.Do("startSession", func() (interface{}, error) {
		if id, ok := b.cachedSessionId(); ok {
			return id, nil
		}

		params := StartSessionParams{
			ChainId:       b.cfg.ChainId,
			ModelId:       b.cfg.ModelName,
			PaymentMethod: "deposit",
			Encryption:    true,
			Host:          b.cfg.HostAddress,
			DepositAmount: b.cfg.DepositAmount,
			PricePerToken: b.cfg.PricePerToken,
			ProofInterval: b.cfg.ProofInterval,
			Duration:      b.cfg.Duration,
		}
		id, err := b.sm.StartSession(ctx, params)
		if err != nil {
			return 0, err
		}
		b.setSessionId(id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SendPrompt ensures a session exists, forwards prompt to it, and recovers
// exactly once if the send fails with a recoverable session error. A second
// failure propagates to the caller unchanged.
func (b *Bridge) SendPrompt(ctx context.Context, prompt string, onToken func(string), images []schema.ImageAttachment) (schema.SendPromptResult, error) {
	return telemetry.RecordSpan(ctx, b.tracer, telemetry.SpanOptions{
		Name:        "session.sendPrompt",
		Attributes:  telemetry.GetBaseAttributes(b.cfg.ModelName, b.cfg.ChainId),
		EndWhenDone: true,
	}, func(ctx context.Context, span trace.Span) (schema.SendPromptResult, error) {
		telemetry.AddSessionAttributes(span, map[string]interface{}{
			"depositAmount": b.cfg.DepositAmount,
			"pricePerToken": b.cfg.PricePerToken,
			"proofInterval": b.cfg.ProofInterval,
			"duration":      b.cfg.Duration,
		})

		result, err := b.send(ctx, prompt, onToken, images)
		if err == nil || !isRecoverable(err) {
			return result, err
		}

		span.SetAttributes(attribute.Bool("bridge.session.recovered", true))
		b.clearSessionId()
		return b.send(ctx, prompt, onToken, images)
	})
}

func (b *Bridge) send(ctx context.Context, prompt string, onToken func(string), images []schema.ImageAttachment) (schema.SendPromptResult, error) {
	sessionId, err := b.EnsureSession(ctx)
	if err != nil {
		return schema.SendPromptResult{}, err
	}

	response, err := b.sm.SendPromptStreaming(ctx, sessionId, prompt, onToken, images)
	if err != nil {
		return schema.SendPromptResult{}, err
	}

	return schema.SendPromptResult{
		Response:   response,
		TokenUsage: b.sm.GetLastTokenUsage(),
	}, nil
}

// Shutdown ends the active session, if any, and clears cached state.
func (b *Bridge) Shutdown(ctx context.Context) error {
	id, ok := b.cachedSessionId()
	if !ok {
		return nil
	}
	err := b.sm.EndSession(ctx, id)
	b.clearSessionId()
	return err
}
