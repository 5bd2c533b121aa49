package generic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PERIOD GUARD - "Is date D locked for institution I?"
// =============================================================================

// PeriodGuard owns the accounting periods of every institution.
//
// It is a pure function over (institutionID, date) backed by the period
// table: there is no "current period" singleton. Reads are never blocked by
// the per-period writer locks; lock/unlock/delete of one period are
// strictly serialized.
type PeriodGuard struct {
	store   Store
	emitter *Emitter
	locks   KeyedMutex
	now     func() time.Time
}

func NewPeriodGuard(store Store, emitter *Emitter) *PeriodGuard {
	return &PeriodGuard{store: store, emitter: emitter, now: time.Now}
}

// WithClock overrides the clock used for LockedAt stamps.
func (g *PeriodGuard) WithClock(now func() time.Time) *PeriodGuard {
	g.now = now
	return g
}

// IsLocked reports whether d falls in a locked period of the institution.
func (g *PeriodGuard) IsLocked(ctx context.Context, institutionID string, d Date) (bool, error) {
	p, err := lockedPeriodAt(ctx, g.store, institutionID, d)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// Check returns a *PeriodLockedError if d falls in a locked period.
// Pass the transaction's Tx as r so the check sees the same snapshot as
// the writes it protects.
func (g *PeriodGuard) Check(ctx context.Context, r Reader, institutionID string, d Date) error {
	return CheckPeriod(ctx, r, institutionID, d)
}

// CheckPeriod is the guard as a plain function over a Reader.
func CheckPeriod(ctx context.Context, r Reader, institutionID string, d Date) error {
	p, err := lockedPeriodAt(ctx, r, institutionID, d)
	if err != nil {
		return err
	}
	if p != nil {
		return &PeriodLockedError{
			InstitutionID: institutionID,
			Date:          d,
			PeriodID:      p.ID,
			PeriodName:    p.Name,
		}
	}
	return nil
}

func lockedPeriodAt(ctx context.Context, r Reader, institutionID string, d Date) (*FinancialPeriod, error) {
	periods, err := r.ListPeriods(ctx, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load periods: %w", err)
	}
	for i := range periods {
		if periods[i].IsLocked && periods[i].Contains(d) {
			return &periods[i], nil
		}
	}
	return nil, nil
}

// =============================================================================
// PERIOD LIFECYCLE
// =============================================================================

// PeriodInput describes a new accounting period.
type PeriodInput struct {
	InstitutionID string
	Name          string
	Type          PeriodType
	StartDate     Date
	EndDate       Date
	CanUnlock     bool
}

// CreatePeriod opens a new period. It fails with ErrPeriodOverlap if the
// range intersects any existing period of the institution.
func (g *PeriodGuard) CreatePeriod(ctx context.Context, in PeriodInput) (*FinancialPeriod, error) {
	if in.InstitutionID == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: institution and name are required", ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = PeriodCustom
	}
	if !in.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown period type %q", ErrInvalidInput, in.Type)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || in.EndDate.Before(in.StartDate) {
		return nil, ErrInvalidPeriod
	}

	unlock := g.locks.Lock("institution:" + in.InstitutionID)
	defer unlock()

	period := FinancialPeriod{
		ID:            uuid.NewString(),
		InstitutionID: in.InstitutionID,
		Name:          in.Name,
		Type:          in.Type,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		CanUnlock:     in.CanUnlock,
		CreatedAt:     g.now().UTC(),
	}

	err := g.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.ListPeriods(ctx, in.InstitutionID)
		if err != nil {
			return err
		}
		for _, p := range existing {
			if p.Overlaps(period) {
				return fmt.Errorf("%w: %q [%s, %s]", ErrPeriodOverlap, p.Name, p.StartDate, p.EndDate)
			}
		}
		return tx.SavePeriod(ctx, period)
	})
	if err != nil {
		return nil, err
	}

	g.emitter.Transition(ctx, "financial_period", period.ID, period.InstitutionID, "", "", "open", "created")
	return &period, nil
}

// Lock closes a period. Locking an already-locked period is an
// ErrInvalidTransition.
func (g *PeriodGuard) Lock(ctx context.Context, periodID, reason, actorID string) (*FinancialPeriod, error) {
	unlock := g.locks.Lock("period:" + periodID)
	defer unlock()

	var period *FinancialPeriod
	err := g.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if p.IsLocked {
			return &TransitionError{Entity: "financial_period", ID: p.ID, From: "locked", To: "locked"}
		}
		at := g.now().UTC()
		p.IsLocked = true
		p.LockedAt = &at
		p.LockedBy = actorID
		p.LockReason = reason
		period = p
		return tx.SavePeriod(ctx, *p)
	})
	if err != nil {
		return nil, err
	}

	g.emitter.Transition(ctx, "financial_period", period.ID, period.InstitutionID, actorID, "open", "locked", reason)
	return period, nil
}

// Unlock reopens a locked period if the operator allowed it (CanUnlock).
func (g *PeriodGuard) Unlock(ctx context.Context, periodID, actorID, reason string) (*FinancialPeriod, error) {
	unlock := g.locks.Lock("period:" + periodID)
	defer unlock()

	var period *FinancialPeriod
	err := g.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if !p.IsLocked {
			return &TransitionError{Entity: "financial_period", ID: p.ID, From: "open", To: "open"}
		}
		if !p.CanUnlock {
			return fmt.Errorf("%w: %q", ErrNotUnlockable, p.Name)
		}
		p.IsLocked = false
		p.LockedAt = nil
		p.LockedBy = ""
		p.LockReason = ""
		period = p
		return tx.SavePeriod(ctx, *p)
	})
	if err != nil {
		return nil, err
	}

	g.emitter.Transition(ctx, "financial_period", period.ID, period.InstitutionID, actorID, "locked", "open", reason)
	return period, nil
}

// DeletePeriod removes a period. Only open periods can be deleted.
func (g *PeriodGuard) DeletePeriod(ctx context.Context, periodID, actorID string) error {
	unlock := g.locks.Lock("period:" + periodID)
	defer unlock()

	var period *FinancialPeriod
	err := g.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if p.IsLocked {
			return &TransitionError{Entity: "financial_period", ID: p.ID, From: "locked", To: "deleted"}
		}
		period = p
		return tx.DeletePeriod(ctx, periodID)
	})
	if err != nil {
		return err
	}

	g.emitter.Transition(ctx, "financial_period", period.ID, period.InstitutionID, actorID, "open", "deleted", "")
	return nil
}

// ListPeriods returns the institution's periods ordered by start date.
func (g *PeriodGuard) ListPeriods(ctx context.Context, institutionID string) ([]FinancialPeriod, error) {
	periods, err := g.store.ListPeriods(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].StartDate.Before(periods[j].StartDate)
	})
	return periods, nil
}
