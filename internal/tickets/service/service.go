package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ms-ticket-gate/internal/clock"
	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
	"ms-ticket-gate/internal/tickets/signer"
)

// OrderStore is the durable keyed storage the service runs on.
type OrderStore interface {
	Put(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	IndexByCreationTime(ctx context.Context, limit int) ([]string, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, usedAt *time.Time) (*models.Order, error)
}

// IdempotencyGuard deduplicates retried checkouts. It is best effort.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, key string) (orderID string, found bool, err error)
	Bind(ctx context.Context, key, orderID string, ttl time.Duration) error
	Rebind(ctx context.Context, key, orderID string, ttl time.Duration) error
}

// Notifier delivers ticket events to the holder-facing side.
type Notifier interface {
	Notify(ctx context.Context, event models.TicketEvent) error
}

// Renderer turns a compact token into an image for the holder.
type Renderer interface {
	Render(token string) ([]byte, error)
}

type Dependencies struct {
	Store    OrderStore
	Signer   *signer.Signer
	Guard    IdempotencyGuard
	Notifier Notifier
	Renderer Renderer
	Clock    clock.Clock
	Logger   *logger.Logger
}

type Options struct {
	TicketTypes    []models.TicketType
	IdempotencyTTL time.Duration
	NameMinLength  int
	StoreTimeout   time.Duration
	NotifyTimeout  time.Duration
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type TicketService struct {
	store    OrderStore
	signer   *signer.Signer
	guard    IdempotencyGuard
	notifier Notifier
	renderer Renderer
	clock    clock.Clock
	logger   *logger.Logger

	validator      *inputValidator
	idempotencyTTL time.Duration
	storeTimeout   time.Duration
	notifyTimeout  time.Duration

	dispatchMu sync.Mutex
	closed     bool
	inflight   sync.WaitGroup
}

func NewTicketService(deps Dependencies, opts Options) (*TicketService, error) {
	if deps.Store == nil {
		return nil, errors.New("ticket service: store is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("ticket service: signer is required")
	}
	if len(opts.TicketTypes) == 0 {
		return nil, errors.New("ticket service: at least one ticket type is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Logger == nil {
		return nil, errors.New("ticket service: logger is required")
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}

	return &TicketService{
		store:          deps.Store,
		signer:         deps.Signer,
		guard:          deps.Guard,
		notifier:       deps.Notifier,
		renderer:       deps.Renderer,
		clock:          deps.Clock,
		logger:         deps.Logger,
		validator:      newInputValidator(opts.TicketTypes, opts.NameMinLength),
		idempotencyTTL: opts.IdempotencyTTL,
		storeTimeout:   opts.StoreTimeout,
		notifyTimeout:  opts.NotifyTimeout,
	}, nil
}

// IssueResult is the order plus the signed payload handed to the holder.
type IssueResult struct {
	Order     *models.Order
	Payload   []byte
	Signature string
	Token     string
	// Replayed is set when an idempotency key resolved to an existing order.
	Replayed bool
}

func resultFor(order *models.Order, replayed bool) *IssueResult {
	payload := []byte(order.Payload)
	return &IssueResult{
		Order:     order,
		Payload:   payload,
		Signature: order.Signature,
		Token:     signer.JoinToken(payload, order.Signature),
		Replayed:  replayed,
	}
}

func (s *TicketService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Issue validates the checkout, signs a fresh ticket and stores it. The signed
// payload is only returned once the write has succeeded.
func (s *TicketService) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	in, ticketType, err := s.validator.check(in)
	if err != nil {
		return nil, err
	}

	var staleBinding bool
	if in.IdempotencyKey != "" {
		replay, stale, err := s.replay(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			s.logger.LogTicket("REPLAY", replay.Order.ID, "idempotency key matched an existing order")
			return replay, nil
		}
		staleBinding = stale
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		HolderName:     in.Name,
		HolderEmail:    in.Email,
		TicketType:     ticketType,
		Status:         models.StatusIssued,
		CreatedAt:      s.clock.Now().UTC().Truncate(time.Microsecond),
		PayloadVersion: signer.PayloadVersion,
	}

	payload, err := signer.Encode(signer.ClaimsFor(order))
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}
	signature, err := s.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}
	order.Payload = string(payload)
	order.Signature = signature

	result := resultFor(order, false)

	if s.renderer != nil {
		png, err := s.renderer.Render(result.Token)
		if err != nil {
			s.logger.Warn("TICKET", fmt.Sprintf("QR render failed for order %s, storing without it: %v", order.ID, err))
		} else {
			order.QRCode = png
		}
	}

	storeCtx, cancel := s.storeContext(ctx)
	err = s.store.Put(storeCtx, order)
	cancel()
	if err != nil {
		s.logger.Error("DATABASE", fmt.Sprintf("failed to persist order %s: %v", order.ID, err))
		return nil, infraErr("issue", err)
	}

	if in.IdempotencyKey != "" && s.guard != nil {
		bind := s.guard.Bind
		if staleBinding {
			bind = s.guard.Rebind
		}
		if err := bind(ctx, in.IdempotencyKey, order.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("IDEMPOTENCY", fmt.Sprintf("failed to bind key for order %s: %v", order.ID, err))
		}
	}

	s.logger.LogTicket("ISSUE", order.ID, fmt.Sprintf("issued %s ticket", order.TicketType))

	s.dispatch(models.TicketEvent{
		Type:       models.TicketEventIssued,
		OrderID:    order.ID,
		HolderName: order.HolderName,
		Email:      order.HolderEmail,
		TicketType: order.TicketType,
		Token:      result.Token,
		QRCode:     order.QRCode,
		OccurredAt: order.CreatedAt,
	})

	return result, nil
}

// replay returns the order previously issued under key, or nil when there is
// none. stale reports a binding whose order no longer exists. Guard failures
// are tolerated.
func (s *TicketService) replay(ctx context.Context, key string) (result *IssueResult, stale bool, err error) {
	if s.guard == nil {
		return nil, false, nil
	}

	orderID, found, err := s.guard.Reserve(ctx, key)
	if err != nil {
		s.logger.Warn("IDEMPOTENCY", fmt.Sprintf("guard unavailable, issuing without deduplication: %v", err))
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	order, err := s.store.Get(storeCtx, orderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		s.logger.Warn("IDEMPOTENCY", fmt.Sprintf("key bound to missing order %s, rebinding", orderID))
		return nil, true, nil
	}
	if err != nil {
		return nil, false, infraErr("issue", err)
	}
	return resultFor(order, true), false, nil
}

// Proof is a payload and signature pair presented at the gate.
type Proof struct {
	Payload   []byte
	Signature string
}

// VerificationResult pairs the verified claims with the stored state. The
// stored order is authoritative for Status and UsedAt.
type VerificationResult struct {
	Claims signer.Claims
	Order  *models.Order
}

func (r *VerificationResult) Status() models.Status {
	return r.Order.Status
}

func (r *VerificationResult) UsedAt() *time.Time {
	return r.Order.UsedAt
}

// authenticate checks the signature, decodes the payload and loads the order.
func (s *TicketService) authenticate(ctx context.Context, proof Proof) (signer.Claims, *models.Order, error) {
	if !s.signer.Verify(proof.Payload, proof.Signature) {
		s.logger.LogSecurity("INVALID_SIGNATURE", "rejected ticket proof")
		return signer.Claims{}, nil, ErrInvalidSignature
	}

	claims, err := signer.Decode(proof.Payload)
	if err != nil {
		return signer.Claims{}, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	order, err := s.store.Get(storeCtx, claims.OrderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		return signer.Claims{}, nil, ErrOrderNotFound
	}
	if err != nil {
		return signer.Claims{}, nil, infraErr("load order", err)
	}

	// A valid MAC over bytes we never issued for this order means the key
	// was used elsewhere; reject it like any other forgery.
	if !bytes.Equal([]byte(order.Payload), proof.Payload) {
		s.logger.LogSecurity("PAYLOAD_MISMATCH", fmt.Sprintf("signed payload does not match stored order %s", order.ID))
		return signer.Claims{}, nil, ErrInvalidSignature
	}

	return claims, order, nil
}

// Verify is read-only and safe to call repeatedly.
func (s *TicketService) Verify(ctx context.Context, proof Proof) (*VerificationResult, error) {
	claims, order, err := s.authenticate(ctx, proof)
	if err != nil {
		return nil, err
	}
	return &VerificationResult{Claims: claims, Order: order}, nil
}

// Redeem moves the ticket from issued to used exactly once.
func (s *TicketService) Redeem(ctx context.Context, proof Proof) (*models.Order, error) {
	_, order, err := s.authenticate(ctx, proof)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	updated, err := s.store.CompareAndSetStatus(storeCtx, order.ID, models.StatusIssued, models.StatusUsed, &now)
	switch {
	case errors.Is(err, models.ErrStatusConflict):
		var usedAt time.Time
		if updated != nil && updated.UsedAt != nil {
			usedAt = *updated.UsedAt
		}
		s.logger.LogSecurity("ALREADY_USED", fmt.Sprintf("redeem attempt for used ticket %s", order.ID))
		return nil, &AlreadyUsedError{OrderID: order.ID, UsedAt: usedAt}
	case errors.Is(err, models.ErrOrderNotFound):
		return nil, ErrOrderNotFound
	case err != nil:
		return nil, infraErr("redeem", err)
	}

	s.logger.LogTicket("REDEEM", updated.ID, "ticket redeemed")

	s.dispatch(models.TicketEvent{
		Type:       models.TicketEventRedeemed,
		OrderID:    updated.ID,
		HolderName: updated.HolderName,
		Email:      updated.HolderEmail,
		TicketType: updated.TicketType,
		OccurredAt: now,
	})

	return updated, nil
}

func (s *TicketService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	order, err := s.store.Get(storeCtx, id)
	if errors.Is(err, models.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, infraErr("get order", err)
	}
	return order, nil
}

// ListOrders returns the most recent orders first. limit is clamped to
// [1, 500]; zero or negative means the default of 50.
func (s *TicketService) ListOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	ids, err := s.store.IndexByCreationTime(storeCtx, limit)
	if err != nil {
		return nil, infraErr("list orders", err)
	}

	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.store.Get(storeCtx, id)
		if errors.Is(err, models.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, infraErr("list orders", err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}
