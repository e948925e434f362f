package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/config"
	"orderflow/metrics"
	"orderflow/order"
)

// ErrStageNotReady signals the order's current status does not admit the
// requested handoff stage.
var ErrStageNotReady = errors.New("handoff: stage not available for current order status")

// Notifier receives committed handoff completions.
type Notifier interface {
	HandoffCompleted(res Result)
}

// Service implements the custody handoff protocol: code issuance, code
// verification, and the status transition the verification authorizes, all
// in one transaction.
type Service struct {
	pool     *pgxpool.Pool
	codes    *CodeStore
	orders   *order.Service
	ordRepo  order.Store
	notifier Notifier
	log      *zap.Logger
	ttls     map[Stage]time.Duration
}

func NewService(pool *pgxpool.Pool, codes *CodeStore, orders *order.Service, ordRepo order.Store, notifier Notifier, cfg config.Config, log *zap.Logger) *Service {
	if codes == nil {
		codes = NewCodeStore()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pool:     pool,
		codes:    codes,
		orders:   orders,
		ordRepo:  ordRepo,
		notifier: notifier,
		log:      log,
		ttls: map[Stage]time.Duration{
			StageSellerPickup:  cfg.SellerPickupCodeTTL,
			StageBuyerDelivery: cfg.BuyerDeliveryCodeTTL,
			StageSiteHandoff:   cfg.SiteHandoffCodeTTL,
		},
	}
}

// issueGates lists, per stage, the statuses from which a code may be issued.
var issueGates = map[Stage][]order.Status{
	StageSellerPickup:  {order.StatusAssigned, order.StatusAgentEnRouteSeller},
	StageBuyerDelivery: {order.StatusSiteReceived, order.StatusEnRouteToBuyer},
	StageSiteHandoff:   {order.StatusPickedFromSeller, order.StatusAtPickupSite},
}

var stageTriggers = map[Stage]order.Trigger{
	StageSellerPickup:  order.TriggerPickupVerified,
	StageBuyerDelivery: order.TriggerDeliveryVerified,
	StageSiteHandoff:   order.TriggerSiteVerified,
}

var issueActions = map[Stage]auth.Action{
	StageSellerPickup:  auth.ActionIssuePickupCode,
	StageBuyerDelivery: auth.ActionIssueDeliveryCode,
	StageSiteHandoff:   auth.ActionIssueSiteCode,
}

var verifyActions = map[Stage]auth.Action{
	StageSellerPickup:  auth.ActionVerifyPickup,
	StageBuyerDelivery: auth.ActionConfirmDelivery,
	StageSiteHandoff:   auth.ActionVerifySiteHandoff,
}

// IssueParams describe a code issuance request.
type IssueParams struct {
	OrderID string
	Stage   Stage
	Actor   auth.Identity
}

// IssueCode generates a fresh confirmation code for the stage, superseding
// any previously active one.
func (s *Service) IssueCode(ctx context.Context, params IssueParams) (IssuedCode, error) {
	action, ok := issueActions[params.Stage]
	if !ok {
		return IssuedCode{}, fmt.Errorf("handoff: unknown stage %q", params.Stage)
	}
	if !auth.CanPerform(params.Actor.Role, action) {
		return IssuedCode{}, fmt.Errorf("%w: role %s cannot issue %s codes", order.ErrActorNotAuthorized, params.Actor.Role, params.Stage)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IssuedCode{}, fmt.Errorf("handoff: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := s.ordRepo.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return IssuedCode{}, err
	}

	if err := s.checkIssuer(ord, params.Stage, params.Actor); err != nil {
		return IssuedCode{}, err
	}
	if !statusIn(ord.Status, issueGates[params.Stage]) {
		return IssuedCode{}, fmt.Errorf("%w: %s in status %s", ErrStageNotReady, params.Stage, ord.Status)
	}

	agentID := boundAgent(ord, params.Stage)
	issued, err := s.codes.Issue(ctx, tx, ord.ID, params.Stage, agentID, s.ttls[params.Stage])
	if err != nil {
		return IssuedCode{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return IssuedCode{}, fmt.Errorf("handoff: commit issue: %w", err)
	}

	metrics.HandoffCodesIssuedTotal.WithLabelValues(string(params.Stage)).Inc()
	s.log.Info("confirmation code issued",
		zap.String("order_id", ord.ID),
		zap.String("stage", string(params.Stage)),
		zap.String("issued_by", params.Actor.UserID),
	)
	return issued, nil
}

// VerifyParams describe a code verification attempt.
type VerifyParams struct {
	OrderID  string
	Stage    Stage
	Value    string
	Actor    auth.Identity
	Evidence *EvidenceInput
}

// Verify checks the presented code and, on success, applies the stage's
// status transition in the same transaction. The code-used marking, the
// status write, the history append, and any settlement writes commit or
// roll back together.
func (s *Service) Verify(ctx context.Context, params VerifyParams) (Result, error) {
	action, ok := verifyActions[params.Stage]
	if !ok {
		return Result{}, fmt.Errorf("handoff: unknown stage %q", params.Stage)
	}
	if !auth.CanPerform(params.Actor.Role, action) {
		return Result{}, fmt.Errorf("%w: role %s cannot verify %s", order.ErrActorNotAuthorized, params.Actor.Role, params.Stage)
	}
	if params.Value == "" {
		return Result{}, fmt.Errorf("handoff: missing code value")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("handoff: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the order row first so a concurrent admin decision or second
	// verification for the same order serializes here.
	ord, err := s.ordRepo.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return Result{}, err
	}

	if err := s.codes.Consume(ctx, tx, ord.ID, params.Stage, params.Value, params.Actor.UserID); err != nil {
		if errors.Is(err, ErrInvalidOrExpiredCode) {
			metrics.HandoffVerifyFailuresTotal.WithLabelValues(string(params.Stage)).Inc()
		}
		return Result{}, err
	}

	if params.Evidence != nil && params.Stage == StageBuyerDelivery {
		if err := s.storeEvidence(ctx, tx, ord.ID, params.Stage, params.Actor.UserID, *params.Evidence); err != nil {
			return Result{}, err
		}
	}

	change, err := s.orders.TransitionInTx(ctx, tx, order.TransitionParams{
		OrderID: ord.ID,
		Trigger: stageTriggers[params.Stage],
		Actor:   params.Actor,
		Reason:  fmt.Sprintf("%s code verified", params.Stage),
	})
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("handoff: commit verify: %w", err)
	}

	s.orders.Announce(change)
	res := Result{Order: change.Order, Stage: params.Stage, Change: change}
	if s.notifier != nil {
		s.notifier.HandoffCompleted(res)
	}
	return res, nil
}

func (s *Service) storeEvidence(ctx context.Context, tx pgx.Tx, orderID string, stage Stage, recordedBy string, in EvidenceInput) error {
	if in.Method == "" {
		in.Method = EvidencePhoto
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_confirmations (order_id, stage, method, data, notes, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, orderID, stage, in.Method, in.Data, in.Notes, recordedBy)
	if err != nil {
		return fmt.Errorf("handoff: store evidence: %w", err)
	}
	return nil
}

// ListEvidence returns the recorded proof for an order, for dispute review.
func (s *Service) ListEvidence(ctx context.Context, orderID string) ([]Evidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, stage, method, data, notes, recorded_by, created_at
		FROM order_confirmations
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("handoff: list evidence: %w", err)
	}
	defer rows.Close()

	out := []Evidence{}
	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Stage, &e.Method, &e.Data, &e.Notes, &e.RecordedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("handoff: scan evidence: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("handoff: iterate evidence: %w", err)
	}
	return out, nil
}

func (s *Service) checkIssuer(ord order.Order, stage Stage, actor auth.Identity) error {
	switch stage {
	case StageSellerPickup:
		if ord.SellerID != actor.UserID {
			return fmt.Errorf("%w: not the seller of record", order.ErrActorNotAuthorized)
		}
	case StageBuyerDelivery:
		if ord.BuyerID != actor.UserID {
			return fmt.Errorf("%w: not the buyer of record", order.ErrActorNotAuthorized)
		}
	case StageSiteHandoff:
		if ord.AssignedAgentID == nil || *ord.AssignedAgentID != actor.UserID {
			return fmt.Errorf("%w: not the agent of record", order.ErrActorNotAuthorized)
		}
	}
	return nil
}

// boundAgent returns the only agent allowed to consume a code for the stage.
// Site handoff codes are open: any pickup-site manager at the site may
// receive the parcel.
func boundAgent(ord order.Order, stage Stage) *string {
	switch stage {
	case StageSellerPickup, StageBuyerDelivery:
		return ord.AssignedAgentID
	default:
		return nil
	}
}

func statusIn(status order.Status, allowed []order.Status) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

// RunExpirySweep marks overdue codes expired at the given interval until the
// context is cancelled.
func (s *Service) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.expireOnce(ctx); err != nil {
				s.log.Warn("code expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) expireOnce(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("handoff: begin expiry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := s.codes.ExpireStale(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("handoff: commit expiry: %w", err)
	}
	if n > 0 {
		s.log.Info("expired stale confirmation codes", zap.Int64("count", n))
	}
	return nil
}
