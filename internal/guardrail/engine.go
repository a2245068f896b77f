// Package guardrail is the choke point for agent tool invocations: every
// request is audited before it may execute, approval-gated by risk, and
// stripped of sensitive values before anything durable sees it.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/brightclass/steward/internal/catalog"
	"github.com/brightclass/steward/internal/ledger"
	"github.com/brightclass/steward/internal/redact"
	"github.com/brightclass/steward/internal/telemetry"
	"github.com/brightclass/steward/internal/tenant"
)

// Outcome is the caller-visible result of submit or approve.
// Exactly one of ApprovalRequired or Result is meaningful.
type Outcome struct {
	ApprovalRequired bool
	PendingID        string
	Reason           string // human-readable approval reason
	Result           *Result
}

// Result describes a completed execution. Handler failures surface here
// with Success=false, not as engine errors.
type Result struct {
	InvocationID string
	Success      bool
	Response     map[string]any // redacted
	ErrorMessage string         // redacted
	State        ledger.State
}

// Engine mediates tool invocations against the catalog and the audit
// ledger. Safe for concurrent use; record state transitions rely on the
// store's compare-and-set, not engine-level locking.
type Engine struct {
	catalog   catalog.Catalog
	store     ledger.Store
	telemetry telemetry.Ledger
	logger    *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Config wires an Engine.
type Config struct {
	Catalog   catalog.Catalog
	Store     ledger.Store
	Telemetry telemetry.Ledger
	Logger    *zap.Logger
}

// NewEngine creates an Engine. Handlers are registered separately.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		telemetry: cfg.Telemetry,
		logger:    cfg.Logger,
		handlers:  make(map[string]Handler),
	}
}

// RegisterHandler binds a tool key to its handler.
func (e *Engine) RegisterHandler(toolKey string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[toolKey] = h
}

func (e *Engine) handler(toolKey string) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[toolKey]
}

// Submit records and, unless approval is required, executes a tool
// invocation. The audit record is written before any execution attempt;
// a ledger failure at that point is fatal to the call.
func (e *Engine) Submit(ctx context.Context, tc tenant.Context, toolKey string, request map[string]any) (outcome *Outcome, err error) {
	start := time.Now()
	defer func() { e.emit(toolKey, tc, start, outcome, err) }()

	if verr := tc.Validate(); verr != nil {
		return nil, validationError(verr.Error())
	}
	if request == nil {
		return nil, validationError("request body is required")
	}

	def, err := e.lookupTool(ctx, toolKey)
	if err != nil {
		return nil, err
	}

	if def.RequestSchema != nil {
		if verr := validateRequest(def.RequestSchema, request); verr != nil {
			return nil, verr
		}
	}

	// Audit before execute: the record must exist before any side effect.
	rec := &ledger.InvocationRecord{
		ID:               uuid.New().String(),
		TenantID:         tc.TenantID,
		ActorID:          tc.ActorID,
		ToolKey:          def.Key,
		RiskLevel:        def.RiskLevel,
		State:            ledger.StatePendingApproval,
		SanitizedRequest: redact.Map(request, def.SensitiveFields),
		RequestedAt:      time.Now().UTC(),
	}
	if perr := e.store.Create(ctx, rec); perr != nil {
		return nil, persistenceError("create", perr)
	}

	if reason, needed := approvalReason(def, request); needed {
		// The unredacted request is retained separately so approve can
		// execute it later; it never enters the audit row.
		if perr := e.store.SavePending(ctx, tc.TenantID, rec.ID, request); perr != nil {
			return nil, persistenceError("retain payload", perr)
		}
		e.logger.Info("invocation held for approval",
			zap.String("invocation_id", rec.ID),
			zap.String("tenant_id", tc.TenantID),
			zap.String("tool_key", def.Key),
			zap.String("reason", reason),
		)
		return &Outcome{
			ApprovalRequired: true,
			PendingID:        rec.ID,
			Reason:           reason,
		}, nil
	}

	return e.execute(ctx, tc, def, rec.ID, request, "")
}

// Approve executes a held invocation. The caller's tenant must own the
// record, the tool is re-validated against the current catalog, and the
// pending→executing transition is a compare-and-set so concurrent
// approvals yield exactly one execution.
func (e *Engine) Approve(ctx context.Context, approver tenant.Context, pendingID string) (outcome *Outcome, err error) {
	start := time.Now()
	var toolKey string
	defer func() { e.emit(toolKey, approver, start, outcome, err) }()

	if verr := approver.Validate(); verr != nil {
		return nil, validationError(verr.Error())
	}

	rec, err := e.loadOwned(ctx, approver, pendingID)
	if err != nil {
		return nil, err
	}
	toolKey = rec.ToolKey
	if rec.State != ledger.StatePendingApproval {
		return nil, ErrAlreadyResolved
	}

	// Re-validate against the current catalog: a tool that was disabled
	// or got riskier since submission must not execute on a stale
	// approval. The record stays pending so a corrected catalog entry
	// can still be approved later.
	def, err := e.lookupTool(ctx, rec.ToolKey)
	if err != nil {
		return nil, err
	}
	if def.RiskLevel.Rank() > rec.RiskLevel.Rank() {
		return nil, ErrRiskEscalated
	}

	won, perr := e.store.BeginExecution(ctx, approver.TenantID, rec.ID, approver.ActorID)
	if perr != nil {
		return nil, persistenceError("transition", perr)
	}
	if !won {
		return nil, ErrAlreadyResolved
	}

	original, perr := e.store.TakePending(ctx, approver.TenantID, rec.ID)
	if perr != nil {
		// The CAS already moved the record to executing; without the
		// retained payload it can never run, so resolve it terminal
		// rather than strand it.
		if rerr := e.store.Resolve(ctx, approver.TenantID, rec.ID, ledger.StateError, nil, "retained request payload unavailable"); rerr != nil {
			e.logger.Error("failed to resolve record after payload loss",
				zap.String("invocation_id", rec.ID),
				zap.Error(rerr),
			)
		}
		return nil, persistenceError("retrieve payload", perr)
	}

	invoker := tenant.Context{TenantID: rec.TenantID, ActorID: rec.ActorID}
	return e.run(ctx, invoker, def, rec.ID, original)
}

// Reject terminally refuses a held invocation. Idempotent failure:
// a second reject (or a reject after approve) gets ErrAlreadyResolved.
func (e *Engine) Reject(ctx context.Context, approver tenant.Context, pendingID, reason string) (err error) {
	start := time.Now()
	var toolKey string
	defer func() { e.emit(toolKey, approver, start, nil, err) }()

	if verr := approver.Validate(); verr != nil {
		return validationError(verr.Error())
	}
	if reason == "" {
		return validationError("rejection reason is required")
	}

	rec, err := e.loadOwned(ctx, approver, pendingID)
	if err != nil {
		return err
	}
	toolKey = rec.ToolKey

	ok, perr := e.store.Reject(ctx, approver.TenantID, rec.ID, approver.ActorID, reason)
	if perr != nil {
		return persistenceError("reject", perr)
	}
	if !ok {
		return ErrAlreadyResolved
	}

	e.logger.Info("invocation rejected",
		zap.String("invocation_id", rec.ID),
		zap.String("tenant_id", approver.TenantID),
		zap.String("tool_key", rec.ToolKey),
	)
	return nil
}

// Pending lists a tenant's unresolved invocations.
func (e *Engine) Pending(ctx context.Context, tc tenant.Context) ([]*ledger.InvocationRecord, error) {
	if verr := tc.Validate(); verr != nil {
		return nil, validationError(verr.Error())
	}
	recs, err := e.store.ListPending(ctx, tc.TenantID)
	if err != nil {
		return nil, persistenceError("list", err)
	}
	return recs, nil
}

// Record returns a single invocation record for the caller's tenant.
func (e *Engine) Record(ctx context.Context, tc tenant.Context, id string) (*ledger.InvocationRecord, error) {
	if verr := tc.Validate(); verr != nil {
		return nil, validationError(verr.Error())
	}
	return e.loadOwned(ctx, tc, id)
}

// loadOwned fetches a record and applies the explicit tenant-membership
// check. Fail closed: ownership is enforced here regardless of any
// storage-level scoping.
func (e *Engine) loadOwned(ctx context.Context, tc tenant.Context, id string) (*ledger.InvocationRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, persistenceError("read", err)
	}
	if !tc.SameTenant(rec.TenantID) {
		return nil, ErrTenantMismatch
	}
	return rec, nil
}

func (e *Engine) lookupTool(ctx context.Context, toolKey string) (*catalog.ToolDefinition, error) {
	def, err := e.catalog.GetTool(ctx, toolKey)
	if err != nil {
		return nil, persistenceError("catalog read", err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}
	if !def.Active {
		return nil, ErrDefinitionInactive
	}
	return def, nil
}

// execute performs the immediate-execution path: CAS to executing, then run.
func (e *Engine) execute(ctx context.Context, tc tenant.Context, def *catalog.ToolDefinition, recID string, request map[string]any, approverID string) (*Outcome, error) {
	won, perr := e.store.BeginExecution(ctx, tc.TenantID, recID, approverID)
	if perr != nil {
		return nil, persistenceError("transition", perr)
	}
	if !won {
		return nil, ErrAlreadyResolved
	}
	return e.run(ctx, tc, def, recID, request)
}

// run invokes the handler with the ORIGINAL request and resolves the
// record. Handler errors and panics become error-state records with
// redacted messages; only ledger failures propagate.
func (e *Engine) run(ctx context.Context, tc tenant.Context, def *catalog.ToolDefinition, recID string, request map[string]any) (*Outcome, error) {
	response, herr := e.invokeHandler(ctx, def.Key, request, tc)

	if herr != nil {
		msg := redact.Scrub(herr.Error(), request, def.SensitiveFields)
		if perr := e.store.Resolve(ctx, tc.TenantID, recID, ledger.StateError, nil, msg); perr != nil {
			return nil, persistenceError("resolve", perr)
		}
		e.logger.Warn("tool handler failed",
			zap.String("invocation_id", recID),
			zap.String("tool_key", def.Key),
			zap.String("error", msg),
		)
		return &Outcome{Result: &Result{
			InvocationID: recID,
			Success:      false,
			ErrorMessage: msg,
			State:        ledger.StateError,
		}}, nil
	}

	sanitized := redact.Map(response, def.SensitiveFields)
	if perr := e.store.Resolve(ctx, tc.TenantID, recID, ledger.StateSuccess, sanitized, ""); perr != nil {
		return nil, persistenceError("resolve", perr)
	}
	return &Outcome{Result: &Result{
		InvocationID: recID,
		Success:      true,
		Response:     sanitized,
		State:        ledger.StateSuccess,
	}}, nil
}

// invokeHandler runs the handler, converting panics into errors.
func (e *Engine) invokeHandler(ctx context.Context, toolKey string, request map[string]any, tc tenant.Context) (response map[string]any, err error) {
	h := e.handler(toolKey)
	if h == nil {
		return nil, fmt.Errorf("no handler registered for tool %s", toolKey)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, request, tc)
}

// approvalReason decides whether an invocation needs human sign-off.
// High risk always gates, regardless of the tool's requires_approval flag.
// Otherwise the tool must both require approval and have a trigger field
// present with a non-null value.
func approvalReason(def *catalog.ToolDefinition, request map[string]any) (string, bool) {
	if def.RiskLevel == catalog.RiskHigh {
		return fmt.Sprintf("%s is a high-risk tool; a staff member must approve this action", def.Name), true
	}
	if !def.RequiresApproval {
		return "", false
	}
	for _, field := range def.ApprovalTriggerFields {
		if v, ok := request[field]; ok && v != nil {
			return fmt.Sprintf("request sets %q, which requires staff approval for %s", field, def.Name), true
		}
	}
	return "", false
}

// validateRequest checks the request against the tool's JSON Schema.
func validateRequest(schema map[string]any, request map[string]any) error {
	// Round-trip through JSON so the instance uses JSON-native types
	// (float64 numbers) as the validator expects.
	raw, err := json.Marshal(request)
	if err != nil {
		return validationError("request is not JSON-encodable")
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return validationError("request is not JSON-encodable")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("request.json", schema); err != nil {
		return validationError("tool request schema is invalid")
	}
	sch, err := compiler.Compile("request.json")
	if err != nil {
		return validationError("tool request schema is invalid")
	}
	if err := sch.Validate(instance); err != nil {
		return validationError(err.Error())
	}
	return nil
}

// emit writes exactly one telemetry record per engine call. The tool path
// never uses a model, so used_model is always false here.
func (e *Engine) emit(toolKey string, tc tenant.Context, start time.Time, outcome *Outcome, err error) {
	if e.telemetry == nil {
		return
	}
	rec := &telemetry.Record{
		Name:     toolKey,
		TenantID: tc.TenantID,
		ActorID:  tc.ActorID,
		Duration: time.Since(start),
	}
	if rec.Name == "" {
		rec.Name = "unknown_tool"
	}
	switch {
	case err != nil:
		rec.Outcome, rec.ErrorCode = telemetry.Classify(err)
	case outcome != nil && outcome.Result != nil && !outcome.Result.Success:
		rec.Outcome = telemetry.OutcomeError
		rec.ErrorCode = "handler_execution_error"
	default:
		rec.Outcome = telemetry.OutcomeSuccess
	}
	e.telemetry.Record(rec)
}
