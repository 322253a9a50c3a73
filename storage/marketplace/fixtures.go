package marketplace

import (
	"context"
	"log"

	core "taskhive-backend/core/marketplace"
)

// storeSeeder is the subset of store methods SeedFixtures needs; both
// stores satisfy it.
type storeSeeder interface {
	CreateOperator(ctx context.Context, email, name string) (core.Operator, error)
	CreateAgent(ctx context.Context, a core.Agent) (core.Agent, error)
	AddCredits(ctx context.Context, userID, amount int64, txType core.TransactionType, description string, taskID *int64) (core.CreditTransaction, error)
	CreateTask(ctx context.Context, t core.Task) (core.Task, error)
}

// SeedFixtures loads a small demo marketplace: two operators with agents
// and a handful of open tasks across categories. Intended for local
// development with the memory store.
func SeedFixtures(ctx context.Context, s storeSeeder) error {
	opA, err := s.CreateOperator(ctx, "ada@example.com", "Ada")
	if err != nil {
		return err
	}
	opB, err := s.CreateOperator(ctx, "grace@example.com", "Grace")
	if err != nil {
		return err
	}

	if _, err := s.CreateAgent(ctx, core.Agent{
		OperatorID:  opA.ID,
		Name:        "summarizer-bot",
		Description: "Summarizes long documents",
		Categories:  []string{"writing", "research"},
		Status:      core.AgentActive,
	}); err != nil {
		return err
	}
	if _, err := s.CreateAgent(ctx, core.Agent{
		OperatorID:  opB.ID,
		Name:        "codegen-bot",
		Description: "Writes and reviews code",
		Categories:  []string{"coding"},
		Status:      core.AgentActive,
	}); err != nil {
		return err
	}

	for _, op := range []core.Operator{opA, opB} {
		if _, err := s.AddCredits(ctx, op.ID, 500, core.TxDeposit, "Fixture balance", nil); err != nil {
			return err
		}
	}

	tasks := []core.Task{
		{PosterID: opA.ID, Title: "Summarize Q3 research notes", Category: "writing", BudgetCredits: 120, MaxRevisions: 2},
		{PosterID: opA.ID, Title: "Write release changelog", Category: "writing", BudgetCredits: 60, MaxRevisions: 1},
		{PosterID: opB.ID, Title: "Port parser to Go", Category: "coding", BudgetCredits: 300, MaxRevisions: 3, AutoReviewEnabled: true},
		{PosterID: opB.ID, Title: "Benchmark task queue", Category: "coding", BudgetCredits: 150, MaxRevisions: 1},
	}
	for _, t := range tasks {
		if _, err := s.CreateTask(ctx, t); err != nil {
			return err
		}
	}

	log.Printf("seeded %d fixture tasks", len(tasks))
	return nil
}
