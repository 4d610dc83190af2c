// Package cashsession runs the register cycle of a location: open with a
// float, record cash in and out, reconcile and close with a count.
package cashsession

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type Repository interface {
	OpenCashSession(ctx context.Context, locationID, operatorID int64, openingAmount decimal.Decimal) (*domain.CashSession, error)
	GetOpenCashSession(ctx context.Context, locationID int64) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, locationID int64, id uuid.UUID) (*domain.CashSession, error)
	ListCashSessions(ctx context.Context, locationID int64, limit int) ([]*domain.CashSession, error)
	AddCashMovement(ctx context.Context, locationID int64, m *domain.CashMovement) error
	ListCashMovements(ctx context.Context, sessionID uuid.UUID) ([]domain.CashMovement, error)
	Reconcile(ctx context.Context, locationID int64) (*domain.Reconciliation, error)
	ReconcileSession(ctx context.Context, s *domain.CashSession) (*domain.Reconciliation, error)
	CloseCashSession(ctx context.Context, locationID, closedBy int64, counted decimal.Decimal) (*domain.CashSession, *domain.Reconciliation, error)
}

type Recorder interface {
	SessionOpened()
	SessionClosed(variance decimal.Decimal)
	MovementRegistered(typ string)
}

type Service struct {
	repo    Repository
	metrics Recorder
	log     zerolog.Logger
}

func NewService(repo Repository, metrics Recorder, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
		log:     log.With().Str("component", "cashsession").Logger(),
	}
}

type OpenRequest struct {
	Session       domain.Session
	OpeningAmount decimal.Decimal
}

type MovementRequest struct {
	Session domain.Session
	Type    domain.MovementType
	Amount  decimal.Decimal
	Reason  string
}

type CloseRequest struct {
	Session       domain.Session
	CountedAmount decimal.Decimal
}

// Status is what the register screen shows: the open session, if any, and
// whether a new one may be opened.
type Status struct {
	Session        *domain.CashSession    `json:"session"`
	Reconciliation *domain.Reconciliation `json:"reconciliation,omitempty"`
	CanOpen        bool                   `json:"can_open"`
}

// Preview is the live variance shown while the closing count is typed in.
type Preview struct {
	Theoretical decimal.Decimal     `json:"theoretical_amount"`
	Counted     decimal.Decimal     `json:"counted_amount"`
	Variance    decimal.Decimal     `json:"variance"`
	Kind        domain.VarianceKind `json:"variance_kind"`
}

type CloseResult struct {
	Session        *domain.CashSession    `json:"session"`
	Reconciliation *domain.Reconciliation `json:"reconciliation"`
	Kind           domain.VarianceKind    `json:"variance_kind"`
}

type Detail struct {
	Session        *domain.CashSession    `json:"session"`
	Movements      []domain.CashMovement  `json:"movements"`
	Reconciliation *domain.Reconciliation `json:"reconciliation"`
}

func (s *Service) Status(ctx context.Context, locationID int64) (*Status, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}

	open, err := s.repo.GetOpenCashSession(ctx, locationID)
	if errors.Is(err, ErrSessionNotFound) {
		return &Status{CanOpen: true}, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.ReconcileSession(ctx, open)
	if err != nil {
		return nil, err
	}
	return &Status{Session: open, Reconciliation: rec, CanOpen: false}, nil
}

func (s *Service) Open(ctx context.Context, req *OpenRequest) (*domain.CashSession, error) {
	if err := req.Session.Validate(); err != nil {
		return nil, err
	}
	if req.OpeningAmount.IsNegative() {
		return nil, fmt.Errorf("%w: opening amount cannot be negative", ErrInvalidAmount)
	}
	if domain.ExceedsMaxAmount(req.OpeningAmount) {
		return nil, fmt.Errorf("%w: opening amount above %s", ErrInvalidAmount, domain.MaxAmount)
	}

	_, err := s.repo.GetOpenCashSession(ctx, req.Session.LocationID)
	if err == nil {
		return nil, ErrSessionAlreadyOpen
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	// Two registers racing past the check above meet the unique index
	session, err := s.repo.OpenCashSession(ctx, req.Session.LocationID, req.Session.OperatorID, req.OpeningAmount)
	if err != nil {
		return nil, err
	}

	s.metrics.SessionOpened()
	s.log.Info().
		Str("session_id", session.ID.String()).
		Int64("location_id", session.LocationID).
		Int64("operator_id", session.OpenedBy).
		Str("opening_amount", session.OpeningAmount.StringFixed(2)).
		Msg("cash session opened")
	return session, nil
}

func (s *Service) RegisterMovement(ctx context.Context, req *MovementRequest) (*domain.CashMovement, error) {
	if err := req.Session.Validate(); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, ErrUnknownMovementType
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: movement amount must be greater than zero", ErrInvalidAmount)
	}
	if domain.ExceedsMaxAmount(req.Amount) {
		return nil, fmt.Errorf("%w: movement amount above %s", ErrInvalidAmount, domain.MaxAmount)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	m := &domain.CashMovement{
		Type:       req.Type,
		Amount:     req.Amount,
		Reason:     reason,
		OperatorID: req.Session.OperatorID,
	}
	if err := s.repo.AddCashMovement(ctx, req.Session.LocationID, m); err != nil {
		return nil, err
	}

	s.metrics.MovementRegistered(string(m.Type))
	s.log.Info().
		Str("session_id", m.SessionID.String()).
		Str("type", string(m.Type)).
		Str("amount", m.Amount.StringFixed(2)).
		Msg("cash movement registered")
	return m, nil
}

// Reconcile sums the open session of a location: opening amount, sales
// since it opened, ingress and egress.
func (s *Service) Reconcile(ctx context.Context, locationID int64) (*domain.Reconciliation, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}
	return s.repo.Reconcile(ctx, locationID)
}

// Preview compares a typed-in count with the theoretical amount. Nothing is
// stored.
func (s *Service) Preview(rec *domain.Reconciliation, counted decimal.Decimal) (*Preview, error) {
	if err := validateCounted(counted); err != nil {
		return nil, err
	}
	counted = domain.RoundMoney(counted)
	variance := rec.Variance(counted)
	return &Preview{
		Theoretical: rec.Theoretical(),
		Counted:     counted,
		Variance:    variance,
		Kind:        domain.ClassifyVariance(variance),
	}, nil
}

func validateCounted(counted decimal.Decimal) error {
	if counted.IsNegative() {
		return fmt.Errorf("%w: counted amount cannot be negative", ErrInvalidAmount)
	}
	if domain.ExceedsMaxAmount(counted) {
		return fmt.Errorf("%w: counted amount above %s", ErrInvalidAmount, domain.MaxAmount)
	}
	return nil
}

// Close reconciles and closes the open session. The session stays open if
// anything fails.
func (s *Service) Close(ctx context.Context, req *CloseRequest) (*CloseResult, error) {
	if err := req.Session.Validate(); err != nil {
		return nil, err
	}
	if err := validateCounted(req.CountedAmount); err != nil {
		return nil, err
	}

	session, rec, err := s.repo.CloseCashSession(ctx, req.Session.LocationID, req.Session.OperatorID, req.CountedAmount)
	if err != nil {
		return nil, err
	}

	kind := domain.ClassifyVariance(*session.Variance)
	s.metrics.SessionClosed(*session.Variance)
	s.log.Info().
		Str("session_id", session.ID.String()).
		Int64("location_id", session.LocationID).
		Int64("closed_by", req.Session.OperatorID).
		Str("theoretical", session.TheoreticalAmount.StringFixed(2)).
		Str("variance", session.Variance.StringFixed(2)).
		Str("variance_kind", string(kind)).
		Msg("cash session closed")

	return &CloseResult{Session: session, Reconciliation: rec, Kind: kind}, nil
}

func (s *Service) Get(ctx context.Context, locationID int64, id uuid.UUID) (*Detail, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}

	session, err := s.repo.GetCashSession(ctx, locationID, id)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListCashMovements(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.ReconcileSession(ctx, session)
	if err != nil {
		return nil, err
	}
	return &Detail{Session: session, Movements: movements, Reconciliation: rec}, nil
}

func (s *Service) History(ctx context.Context, locationID int64, limit int) ([]*domain.CashSession, error) {
	if locationID <= 0 {
		return nil, domain.ErrMissingContext
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.repo.ListCashSessions(ctx, locationID, limit)
}
