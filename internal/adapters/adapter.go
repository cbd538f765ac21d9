package adapters

import (
	"context"
	"time"

	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/secrets"
	"github.com/railrun/railrun/internal/transport"
)

// Deps are the collaborators handed to every adapter tick
type Deps struct {
	Transport   transport.Transport
	Credentials secrets.Credentials
	Clock       clock.Clock
}

// CallError is a structured summary of one failed remote call. Adapters
// never raise; every failure lands here.
type CallError struct {
	Provider string    `json:"provider"`
	Kind     errs.Kind `json:"kind"`
	Message  string    `json:"message"`
}

// TickResult is everything one adapter produced in one tick: zero or more
// normalized edges plus the errors it swallowed along the way.
type TickResult struct {
	Edges  []model.RouteSegment
	Errors []CallError
}

// Adapter maps one external source's native quotes to edge records.
// Fetch must complete within the per-tick deadline carried by ctx; on
// deadline expiry the partial result stands. Fetch must never panic and
// never return a raised error.
type Adapter interface {
	Name() string
	Cadence() model.CadenceClass
	// Targets configures the asset universe the adapter quotes over
	Fetch(ctx context.Context, deps Deps) TickResult
}

// TransferRequest asks a provider to move amountIn across the edge
type TransferRequest struct {
	Edge     model.RouteSegment
	AmountIn float64
}

// TransferStatus is a provider-side transfer state
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSettled   TransferStatus = "settled"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// Transfer is the provider's view of an in-flight or settled transfer
type Transfer struct {
	TxnID     string
	Status    TransferStatus
	AmountOut float64
	FeesPaid  float64
}

// ExecutionClient is the execution-side contract a provider adapter may
// implement. Create starts the transfer; Fund is the separate funding step
// bank-rail providers require; Status drives confirmation polling; Cancel
// and Modify are best-effort and may return NotSupported kinds.
type ExecutionClient interface {
	Create(ctx context.Context, deps Deps, req TransferRequest) (*Transfer, error)
	Fund(ctx context.Context, deps Deps, txnID string) error
	Status(ctx context.Context, deps Deps, txnID string) (*Transfer, error)
	Cancel(ctx context.Context, deps Deps, txnID string) error
}

// RequiresFunding reports whether the provider model needs a separate fund
// step after create (bank-rail family).
func RequiresFunding(class model.SegmentClass) bool {
	return class == model.ClassBankRail || class == model.ClassFX
}

// classifyStatus maps an HTTP status to the error taxonomy
func classifyStatus(status int) errs.Kind {
	switch {
	case status == 401 || status == 403:
		return errs.KindProviderAuth
	case status == 429 || status == 418:
		return errs.KindRateLimited
	case status >= 500:
		return errs.KindProviderTransient
	case status >= 400:
		return errs.KindProviderPermanent
	default:
		return errs.KindProviderTransient
	}
}

// callErr builds the CallError for a failed remote call. Transport-level
// failures (timeouts, connection resets, open breakers) classify as
// transient.
func callErr(provider string, status int, err error) CallError {
	if err != nil {
		return CallError{Provider: provider, Kind: errs.KindProviderTransient, Message: err.Error()}
	}
	return CallError{Provider: provider, Kind: classifyStatus(status), Message: "unexpected status"}
}

// parseErr builds the CallError for a malformed provider payload
func parseErr(provider string, err error) CallError {
	return CallError{Provider: provider, Kind: errs.KindParse, Message: err.Error()}
}

// transportGet is the plain GET request most quote endpoints need. The
// provider name routes the transport's per-provider timeout override.
func transportGet(provider, url string) transport.Request {
	return transport.Request{Method: "GET", URL: url, Provider: provider}
}

func transportPost(provider, url string, headers map[string]string, body []byte) transport.Request {
	return transport.Request{Method: "POST", URL: url, Headers: headers, Body: body, Provider: provider}
}

// tickDeadline returns the default per-tick deadline for a cadence class:
// fast adapters get 2s, slow adapters 10s.
func tickDeadline(c model.CadenceClass) time.Duration {
	if c == model.CadenceFast {
		return 2 * time.Second
	}
	return 10 * time.Second
}
