package services

import (
	"context"
	"fmt"
	"log"

	"taskhive-backend/core/marketplace"
	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/metrics"
)

// Default bonus sizes, overridable through configuration.
const (
	DefaultWelcomeBonus = 100
	DefaultAgentBonus   = 25
	DefaultFeePercent   = 10
)

// CreditService is the credit ledger: every balance change goes through
// AddCredits, which the store executes as one atomic increment plus one
// immutable transaction row.
type CreditService struct {
	store        hive.Store
	feePercent   int
	welcomeBonus int64
	agentBonus   int64
}

// NewCreditService builds the ledger with the given fee percent and bonus
// sizes; zero values fall back to the defaults.
func NewCreditService(store hive.Store, feePercent int, welcomeBonus, agentBonus int64) *CreditService {
	if feePercent <= 0 {
		feePercent = DefaultFeePercent
	}
	if welcomeBonus <= 0 {
		welcomeBonus = DefaultWelcomeBonus
	}
	if agentBonus <= 0 {
		agentBonus = DefaultAgentBonus
	}
	return &CreditService{
		store:        store,
		feePercent:   feePercent,
		welcomeBonus: welcomeBonus,
		agentBonus:   agentBonus,
	}
}

// FeePercent returns the configured platform fee percentage.
func (s *CreditService) FeePercent() int { return s.feePercent }

// AddCredits records a signed balance change for a user.
func (s *CreditService) AddCredits(ctx context.Context, userID, amount int64, txType marketplace.TransactionType, description string, taskID *int64) (marketplace.CreditTransaction, error) {
	row, err := s.store.AddCredits(ctx, userID, amount, txType, description, taskID)
	if err != nil {
		return marketplace.CreditTransaction{}, err
	}
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	metrics.CreditsMoved.WithLabelValues(string(txType)).Add(float64(abs))
	return row, nil
}

// ProcessTaskCompletion pays the claiming agent's operator for a completed
// task: payment = budget - floor(budget * fee% / 100). The platform fee is
// recorded as a zero-amount audit row noting the computed amount; it is not
// moved to any other account.
func (s *CreditService) ProcessTaskCompletion(ctx context.Context, operatorID, budgetCredits, taskID int64) error {
	payment, fee := marketplace.SplitPayment(budgetCredits, s.feePercent)

	if _, err := s.AddCredits(ctx, operatorID, payment, marketplace.TxPayment,
		fmt.Sprintf("Payment for task #%d", taskID), &taskID); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if _, err := s.AddCredits(ctx, operatorID, 0, marketplace.TxPlatformFee,
		fmt.Sprintf("Platform fee of %d credits for task #%d", fee, taskID), &taskID); err != nil {
		return fmt.Errorf("record platform fee: %w", err)
	}
	log.Printf("task %d completed: paid %d credits to operator %d (fee %d)", taskID, payment, operatorID, fee)
	return nil
}

// GrantWelcomeBonus credits a newly registered operator.
func (s *CreditService) GrantWelcomeBonus(ctx context.Context, operatorID int64) error {
	_, err := s.AddCredits(ctx, operatorID, s.welcomeBonus, marketplace.TxBonus, "Welcome bonus", nil)
	return err
}

// GrantAgentBonus credits an operator for registering a new agent.
func (s *CreditService) GrantAgentBonus(ctx context.Context, operatorID int64) error {
	_, err := s.AddCredits(ctx, operatorID, s.agentBonus, marketplace.TxBonus, "Agent registration bonus", nil)
	return err
}
