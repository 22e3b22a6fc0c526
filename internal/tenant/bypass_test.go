package tenant

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

type recordingExecer struct {
	stmts []string
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.stmts = append(r.stmts, query)
	return nil, nil
}

func newTestBypass(q *recordingExecer) *Bypass {
	return &Bypass{q: q, suspend: suspendGuard, reinstate: reinstateGuard}
}

func TestBypassPhases(t *testing.T) {
	q := &recordingExecer{}
	b := newTestBypass(q)
	require.Equal(t, PhaseArmed, b.Phase())

	var during Phase
	err := b.Do(context.Background(), func() error {
		during = b.Phase()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseSuspended, during)
	assert.Equal(t, PhaseReinstated, b.Phase())
	require.Len(t, q.stmts, 2)
	assert.Contains(t, q.stmts[0], "'on'")
	assert.Contains(t, q.stmts[1], "'off'")
}

func TestBypassReinstatesAfterWorkFails(t *testing.T) {
	q := &recordingExecer{}
	b := newTestBypass(q)
	boom := errors.New("delete failed")

	err := b.Do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, PhaseReinstated, b.Phase())
	assert.Len(t, q.stmts, 2)
}

func TestBypassReinstateFailureLeavesSuspended(t *testing.T) {
	b := newTestBypass(&recordingExecer{})
	b.reinstate = func(context.Context, sqlx.ExecerContext) error { return errors.New("connection reset") }

	err := b.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrBypassReinstate)
	assert.Equal(t, PhaseSuspended, b.Phase())

	err = b.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrBypassOpen)
}

func TestBypassCanReopenAfterReinstatement(t *testing.T) {
	q := &recordingExecer{}
	b := newTestBypass(q)
	require.NoError(t, b.Do(context.Background(), func() error { return nil }))
	require.NoError(t, b.Do(context.Background(), func() error { return nil }))
	assert.Len(t, q.stmts, 4)
}

func TestRunPrivilegedRequiresAdmin(t *testing.T) {
	s := &Scope{}
	err := s.RunPrivileged(context.Background(), Context{UserID: 3}, nil)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "armed", PhaseArmed.String())
	assert.Equal(t, "suspended", PhaseSuspended.String())
	assert.Equal(t, "reinstated", PhaseReinstated.String())
}
