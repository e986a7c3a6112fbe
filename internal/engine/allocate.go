package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"starforge/internal/domain"
	"starforge/internal/events"
)

// Allocate moves sunshines from a stakeholder's personal balance into
// an issue's pool, appending a funding record. The three writes hit
// three independent aggregates with no shared transaction; when a
// later step fails the earlier ones are reversed by hand. A crash
// between steps leaves the ledger inconsistent. That window is a known
// property of the design, not something this function can close.
func (e Engine) Allocate(ctx context.Context, stakeholderID, issueID string, amount float64, actorID string) error {
	fund := func(now string) error {
		rec := domain.FundingRecord{
			ID:        uuid.New().String(),
			IssueID:   issueID,
			FunderID:  stakeholderID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := e.Repo.AppendFundingRecord(ctx, rec); err != nil {
			return fmt.Errorf("append funding record: %w", err)
		}
		if err := e.Repo.AddIssueSunshines(ctx, issueID, amount, now); err != nil {
			if derr := e.Repo.DeleteFundingRecord(ctx, rec.ID); derr != nil {
				log.Printf("allocate: funding record %s left dangling after failed issue credit: %v", rec.ID, derr)
			}
			return fmt.Errorf("credit issue pool: %w", err)
		}
		return nil
	}
	galaxyID, err := e.allocate(ctx, stakeholderID, issueID, amount, fund)
	if err != nil {
		return err
	}
	return e.Events.Append(ctx, "issue.funded", galaxyID, "issue", issueID, actorID, events.EventPayload{
		"funder_id": stakeholderID,
		"amount":    amount,
	})
}

// Deallocate spends sunshines directly onto an issue without a funding
// record, used when incrementally adding shine to an existing issue.
// Same step order and compensation policy as Allocate.
func (e Engine) Deallocate(ctx context.Context, stakeholderID, issueID string, amount float64, actorID string) error {
	credit := func(now string) error {
		if err := e.Repo.AddIssueSunshines(ctx, issueID, amount, now); err != nil {
			return fmt.Errorf("credit issue pool: %w", err)
		}
		return nil
	}
	galaxyID, err := e.allocate(ctx, stakeholderID, issueID, amount, credit)
	if err != nil {
		return err
	}
	return e.Events.Append(ctx, "issue.shined", galaxyID, "issue", issueID, actorID, events.EventPayload{
		"funder_id": stakeholderID,
		"amount":    amount,
	})
}

// allocate runs the shared three-step sequence: (1) debit stakeholder,
// (2) credit galaxy, (3) credit issue via the supplied step. Failure of
// (2) re-credits the stakeholder; failure of (3) reverses both (2) and
// (1) before reporting.
func (e Engine) allocate(ctx context.Context, stakeholderID, issueID string, amount float64, creditIssue func(now string) error) (string, error) {
	if amount < 0 {
		return "", errors.New("amount must be non-negative")
	}
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return "", err
	}
	if issue.HasTag(domain.TagClosed) {
		return "", fmt.Errorf("issue %s is closed", issueID)
	}

	spent, err := e.Repo.SpendStakeholderSunshines(ctx, stakeholderID, amount)
	if err != nil {
		return "", fmt.Errorf("debit stakeholder: %w", err)
	}
	if !spent {
		if _, err := e.Repo.GetStakeholder(ctx, stakeholderID); err != nil {
			return "", err
		}
		return "", ErrInsufficientBalance
	}

	if err := e.Repo.IncrementGalaxyBalance(ctx, issue.GalaxyID, "sunshines", amount); err != nil {
		e.compensate(ctx, "stakeholder", stakeholderID, func() error {
			return e.Repo.IncrementStakeholderBalance(ctx, stakeholderID, "sunshines", amount)
		})
		return "", fmt.Errorf("credit galaxy pool: %w", err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	if err := creditIssue(now); err != nil {
		e.compensate(ctx, "galaxy", issue.GalaxyID, func() error {
			return e.Repo.IncrementGalaxyBalance(ctx, issue.GalaxyID, "sunshines", -amount)
		})
		e.compensate(ctx, "stakeholder", stakeholderID, func() error {
			return e.Repo.IncrementStakeholderBalance(ctx, stakeholderID, "sunshines", amount)
		})
		return "", err
	}
	return issue.GalaxyID, nil
}

// compensate runs a best-effort reversal. A failed compensation cannot
// be retried here; it is logged for operator attention.
func (e Engine) compensate(ctx context.Context, kind, id string, fn func() error) {
	if err := fn(); err != nil {
		log.Printf("allocate: compensation for %s %s failed, balances inconsistent: %v", kind, id, err)
	}
}
