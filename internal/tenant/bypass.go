package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/observability"
)

var (
	// ErrBypassReinstate means the delete guard could not be re-armed; the
	// surrounding transaction must roll back.
	ErrBypassReinstate = errors.New("tenant: delete guard reinstatement failed")
	ErrBypassOpen      = errors.New("tenant: bypass window already open")
)

// Phase is the state of the delete guard inside one privileged transaction.
type Phase int

const (
	PhaseArmed Phase = iota
	PhaseSuspended
	PhaseReinstated
)

func (p Phase) String() string {
	switch p {
	case PhaseArmed:
		return "armed"
	case PhaseSuspended:
		return "suspended"
	case PhaseReinstated:
		return "reinstated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Bypass lets an admin delete rows owned by other users. The override is
// transaction-local and honoured only for DELETE by an active admin.
type Bypass struct {
	q         sqlx.ExecerContext
	phase     Phase
	suspend   func(ctx context.Context, q sqlx.ExecerContext) error
	reinstate func(ctx context.Context, q sqlx.ExecerContext) error
}

func (b *Bypass) Phase() Phase { return b.phase }

// Do suspends the delete guard, runs fn and re-arms the guard. fn's error is
// returned after reinstatement; a failed reinstatement wins over it.
func (b *Bypass) Do(ctx context.Context, fn func() error) error {
	if b.phase == PhaseSuspended {
		return ErrBypassOpen
	}
	if err := b.suspend(ctx, b.q); err != nil {
		observability.RecordBypass("suspend_failed")
		return fmt.Errorf("suspend delete guard: %w", err)
	}
	b.phase = PhaseSuspended

	fnErr := fn()

	if err := b.reinstate(ctx, b.q); err != nil {
		observability.RecordBypass("reinstate_failed")
		return fmt.Errorf("%w: %w", ErrBypassReinstate, err)
	}
	b.phase = PhaseReinstated
	if fnErr != nil {
		observability.RecordBypass("failed")
		return fnErr
	}
	observability.RecordBypass("reinstated")
	return nil
}

func suspendGuard(ctx context.Context, q sqlx.ExecerContext) error {
	_, err := q.ExecContext(ctx, `SELECT set_config('app.admin_override', 'on', true)`)
	return err
}

func reinstateGuard(ctx context.Context, q sqlx.ExecerContext) error {
	_, err := q.ExecContext(ctx, `SELECT set_config('app.admin_override', 'off', true)`)
	return err
}

// RunPrivileged runs fn in a transaction bound to an admin context and hands
// it a Bypass. Admin status is re-read inside the transaction. The
// transaction commits only if every bypass window was reinstated.
func (s *Scope) RunPrivileged(ctx context.Context, tc Context, fn func(q sqlx.ExtContext, b *Bypass) error) error {
	if !tc.IsAdmin {
		return apperr.Forbidden("admin privileges required")
	}
	return s.Run(ctx, tc, func(q sqlx.ExtContext) error {
		var admin bool
		if err := sqlx.GetContext(ctx, q, &admin, `SELECT rls_acting_is_admin()`); err != nil {
			return fmt.Errorf("check admin: %w", err)
		}
		if !admin {
			return apperr.Forbidden("admin privileges required")
		}
		b := &Bypass{q: q, suspend: s.suspend, reinstate: s.reinstate}
		if err := fn(q, b); err != nil {
			return err
		}
		if b.phase == PhaseSuspended {
			return ErrBypassReinstate
		}
		return nil
	})
}
