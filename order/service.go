package order

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/metrics"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the repository surface the state machine uses.
type Store interface {
	GetByID(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, expectedVersion int64) (Order, error)
	Claim(ctx context.Context, tx pgx.Tx, id, agentID string, role auth.Role) (Order, error)
	Reassign(ctx context.Context, tx pgx.Tx, id, agentID string, role auth.Role) error
	AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error
	History(ctx context.Context, orderID string) ([]HistoryEntry, error)
	ListAvailable(ctx context.Context, method DeliveryMethod, limit int) ([]Order, error)
}

// Settler is invoked inside the transition transaction whenever an edge
// crosses a money boundary. The settlement package implements it.
type Settler interface {
	OnSellerPickup(ctx context.Context, tx pgx.Tx, ord Order) error
	OnBuyerDelivery(ctx context.Context, tx pgx.Tx, ord Order) error
}

// OutboxWriter enqueues an event in the same transaction as the state write.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Notifier receives committed status changes. Called strictly after commit.
type Notifier interface {
	OrderStatusChanged(change StatusChange)
}

// Service owns the order status lifecycle.
type Service struct {
	pool     TxBeginner
	repo     Store
	settler  Settler
	outbox   OutboxWriter
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Store, settler Settler, outbox OutboxWriter, notifier Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		settler:  settler,
		outbox:   outbox,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TransitionParams describe one transition attempt.
type TransitionParams struct {
	OrderID string
	Trigger Trigger
	Actor   auth.Identity
	Reason  string
}

// Transition applies one edge of the transition table in its own
// transaction and announces the change after commit.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	change, err := s.TransitionInTx(ctx, tx, params)
	if err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit transition: %w", err)
	}

	s.Announce(change)
	return change.Order, nil
}

// TransitionInTx applies a transition inside the caller's transaction. The
// caller commits and must then pass the returned change to Announce; nothing
// is pushed to the router before the commit.
func (s *Service) TransitionInTx(ctx context.Context, tx pgx.Tx, params TransitionParams) (StatusChange, error) {
	ord, err := s.repo.GetForUpdate(ctx, tx, params.OrderID)
	if err != nil {
		return StatusChange{}, err
	}

	e, err := resolve(ord, params.Trigger, params.Actor)
	if err != nil {
		return StatusChange{}, err
	}

	// A site handoff passes custody to the pickup-site manager.
	if params.Trigger == TriggerSiteVerified {
		if err := s.repo.Reassign(ctx, tx, ord.ID, params.Actor.UserID, params.Actor.Role); err != nil {
			return StatusChange{}, err
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, ord.ID, e.to, ord.Version)
	if err != nil {
		return StatusChange{}, err
	}

	if err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
		OrderID:   ord.ID,
		OldStatus: ord.Status,
		NewStatus: updated.Status,
		ChangedBy: params.Actor.UserID,
		Reason:    params.Reason,
	}); err != nil {
		return StatusChange{}, err
	}

	switch e.boundary {
	case BoundarySellerPickup:
		if s.settler != nil {
			if err := s.settler.OnSellerPickup(ctx, tx, updated); err != nil {
				return StatusChange{}, err
			}
		}
	case BoundaryBuyerDelivery:
		if s.settler != nil {
			if err := s.settler.OnBuyerDelivery(ctx, tx, updated); err != nil {
				return StatusChange{}, err
			}
		}
	}

	if s.outbox != nil {
		payload := map[string]any{
			"order_id": ord.ID,
			"previous": ord.Status,
			"next":     updated.Status,
			"trigger":  params.Trigger,
			"actor_id": params.Actor.UserID,
		}
		if err := s.outbox.Enqueue(ctx, tx, "order.status_changed", payload); err != nil {
			return StatusChange{}, fmt.Errorf("order: enqueue outbox: %w", err)
		}
	}

	return StatusChange{
		Order:     updated,
		Old:       ord.Status,
		New:       updated.Status,
		Trigger:   params.Trigger,
		Actor:     params.Actor,
		Timestamp: s.now().UTC(),
	}, nil
}

// Announce pushes a committed change to the router and records metrics.
func (s *Service) Announce(change StatusChange) {
	metrics.OrderTransitionsTotal.WithLabelValues(string(change.Old), string(change.New)).Inc()
	s.log.Info("order status changed",
		zap.String("order_id", change.Order.ID),
		zap.String("from", string(change.Old)),
		zap.String("to", string(change.New)),
		zap.String("trigger", string(change.Trigger)),
		zap.String("actor_id", change.Actor.UserID),
	)
	if s.notifier != nil {
		s.notifier.OrderStatusChanged(change)
	}
}

// Claim atomically assigns an available order to the calling agent.
func (s *Service) Claim(ctx context.Context, orderID string, actor auth.Identity) (Order, error) {
	if !auth.CanPerform(actor.Role, auth.ActionClaimOrder) {
		return Order{}, fmt.Errorf("%w: role %s cannot claim orders", ErrActorNotAuthorized, actor.Role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if _, err := resolve(ord, TriggerClaim, actor); err != nil {
		return Order{}, err
	}

	claimed, err := s.repo.Claim(ctx, tx, orderID, actor.UserID, actor.Role)
	if err != nil {
		return Order{}, err
	}

	if err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
		OrderID:   ord.ID,
		OldStatus: ord.Status,
		NewStatus: claimed.Status,
		ChangedBy: actor.UserID,
		Reason:    "agent claimed order",
	}); err != nil {
		return Order{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"order_id": ord.ID,
			"agent_id": actor.UserID,
			"role":     actor.Role,
		}
		if err := s.outbox.Enqueue(ctx, tx, "order.assigned", payload); err != nil {
			return Order{}, fmt.Errorf("order: enqueue claim outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit claim: %w", err)
	}

	s.Announce(StatusChange{
		Order:     claimed,
		Old:       ord.Status,
		New:       claimed.Status,
		Trigger:   TriggerClaim,
		Actor:     actor,
		Timestamp: s.now().UTC(),
	})
	return claimed, nil
}

// Get returns the order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.GetByID(ctx, id)
}

// History returns the append-only audit trail.
func (s *Service) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	return s.repo.History(ctx, id)
}

// ListAvailable returns orders an agent may claim, limited to the delivery
// method the agent's role serves.
func (s *Service) ListAvailable(ctx context.Context, actor auth.Identity, limit int) ([]Order, error) {
	if !auth.CanPerform(actor.Role, auth.ActionListAvailable) {
		return nil, fmt.Errorf("%w: role %s cannot list available orders", ErrActorNotAuthorized, actor.Role)
	}
	method, ok := MethodForAgent(actor.Role)
	if !ok {
		return nil, fmt.Errorf("%w: role %s cannot claim orders", ErrActorNotAuthorized, actor.Role)
	}
	return s.repo.ListAvailable(ctx, method, limit)
}
