package admin

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activityentity "github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
	adminrepo "github.com/ovaphlow/pitchfork/service-planner/internal/admin/repo"
	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-planner/internal/user/repo"
)

// world is a shared in-memory database for the fakes below. The event log
// records the order in which the service touched it.
type world struct {
	users      map[int64]*entity.User
	activities map[int64][]activityentity.Activity
	events     []string
	windowOpen bool
}

func newWorld() *world {
	w := &world{users: map[int64]*entity.User{}, activities: map[int64][]activityentity.Activity{}}
	w.addUser(1, "admin", true)
	w.addUser(2, "ops", true)
	w.addUser(3, "mario", false)
	w.activities[3] = []activityentity.Activity{
		{ID: 10, Title: "gym", Date: "2025-03-12", Status: activityentity.StatusTodo, UserID: 3},
		{ID: 11, Title: "read", Date: "2025-03-13", Status: activityentity.StatusDone, UserID: 3},
	}
	return w
}

func (w *world) addUser(id int64, username string, admin bool) {
	w.users[id] = &entity.User{
		ID: id, Username: username, Email: username + "@test.it", IsActive: true, IsAdmin: admin,
		Version: 1, CreatedAt: time.Date(2025, 1, int(id), 0, 0, 0, 0, time.UTC),
	}
}

type memUsers struct{ w *world }

func (m memUsers) GetByID(_ context.Context, _ sqlx.ExtContext, id int64) (*entity.User, error) {
	u, ok := m.w.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) sorted() []entity.User {
	var out []entity.User
	for _, u := range m.w.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m memUsers) List(_ context.Context, _ sqlx.ExtContext, lq entity.ListQuery) ([]entity.User, int, error) {
	var match []entity.User
	for _, u := range m.sorted() {
		if lq.Search == "" || strings.Contains(u.Username, lq.Search) || strings.Contains(u.Email, lq.Search) {
			match = append(match, u)
		}
	}
	total := len(match)
	if lq.Offset >= len(match) {
		return []entity.User{}, total, nil
	}
	match = match[lq.Offset:]
	if len(match) > lq.Limit {
		match = match[:lq.Limit]
	}
	return match, total, nil
}

func (m memUsers) Update(_ context.Context, _ sqlx.ExtContext, id int64, c entity.Changes) error {
	u, ok := m.w.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	if c.Username != nil {
		u.Username = *c.Username
	}
	if c.Email != nil {
		u.Email = *c.Email
	}
	if c.IsActive != nil {
		u.IsActive = *c.IsActive
	}
	m.w.events = append(m.w.events, "update-user")
	return nil
}

func (m memUsers) UpdatePassword(_ context.Context, _ sqlx.ExtContext, id int64, hash, _ string) error {
	u, ok := m.w.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	u.Version++
	return nil
}

func (m memUsers) Delete(_ context.Context, _ sqlx.ExtContext, id int64) error {
	if _, ok := m.w.users[id]; !ok {
		return sql.ErrNoRows
	}
	if m.w.windowOpen {
		m.w.events = append(m.w.events, "delete-user-in-window")
	} else {
		m.w.events = append(m.w.events, "delete-user")
	}
	delete(m.w.users, id)
	return nil
}

func (m memUsers) Recent(_ context.Context, _ sqlx.ExtContext, limit int) ([]entity.User, error) {
	out := m.sorted()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memUsers) Counts(context.Context, sqlx.ExtContext) (int, int, int, error) {
	var active, admins int
	for _, u := range m.w.users {
		if u.IsActive {
			active++
		}
		if u.IsAdmin {
			admins++
		}
	}
	return len(m.w.users), active, admins, nil
}

func (m memUsers) CreatedByMonth(context.Context, sqlx.ExtContext) ([]userrepo.MonthCount, error) {
	return []userrepo.MonthCount{{Month: "2025-01", Count: len(m.w.users)}}, nil
}

type memActivities struct{ w *world }

func (m memActivities) List(_ context.Context, _ sqlx.ExtContext, owner int64, f activityentity.Filter) ([]activityentity.Activity, error) {
	var out []activityentity.Activity
	for _, a := range m.w.activities[owner] {
		if f.Status == "" || a.Status == f.Status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m memActivities) DeleteByOwner(_ context.Context, _ sqlx.ExtContext, owner int64) (int64, error) {
	if !m.w.windowOpen {
		return 0, tenant.ErrNoContext
	}
	m.w.events = append(m.w.events, "delete-activities")
	n := int64(len(m.w.activities[owner]))
	delete(m.w.activities, owner)
	return n, nil
}

type memStats struct{ w *world }

func (m memStats) ActivityCounts(context.Context, sqlx.ExtContext) (int, map[activityentity.Status]int, error) {
	by := map[activityentity.Status]int{}
	total := 0
	for _, list := range m.w.activities {
		for _, a := range list {
			by[a.Status]++
			total++
		}
	}
	return total, by, nil
}

func (m memStats) PerUser(context.Context, sqlx.ExtContext) ([]adminrepo.UserActivityCount, error) {
	out := []adminrepo.UserActivityCount{}
	for id, u := range m.w.users {
		out = append(out, adminrepo.UserActivityCount{UserID: id, Username: u.Username, Count: len(m.w.activities[id])})
	}
	return out, nil
}

func (m memStats) RecentActivities(_ context.Context, _ sqlx.ExtContext, limit int) ([]adminrepo.RecentActivity, error) {
	out := []adminrepo.RecentActivity{}
	for _, a := range m.w.activities[3] {
		out = append(out, adminrepo.RecentActivity{ID: a.ID, Title: a.Title, UserID: a.UserID, Username: "mario"})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memStats) ActivitiesByMonth(context.Context, sqlx.ExtContext) ([]userrepo.MonthCount, error) {
	return []userrepo.MonthCount{}, nil
}

type fakeAccounts struct {
	w   *world
	err error
}

func (f fakeAccounts) CreateAccount(_ context.Context, in user.SignupInput, isAdmin bool) (*entity.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := int64(len(f.w.users) + 10)
	f.w.addUser(id, in.Username, isAdmin)
	return f.w.users[id], nil
}

type inlineRunner struct{ bound []tenant.Context }

func (r *inlineRunner) Run(_ context.Context, tc tenant.Context, fn func(q sqlx.ExtContext) error) error {
	r.bound = append(r.bound, tc)
	return fn(nil)
}

func (r *inlineRunner) RunReadOnly(ctx context.Context, tc tenant.Context, fn func(q sqlx.ExtContext) error) error {
	return r.Run(ctx, tc, fn)
}

// fakeWindow mirrors the bypass phases against the in-memory world.
type fakeWindow struct {
	w            *world
	reinstateErr error
}

func (f *fakeWindow) Do(_ context.Context, fn func() error) error {
	f.w.windowOpen = true
	f.w.events = append(f.w.events, "suspend")
	err := fn()
	if f.reinstateErr != nil {
		return f.reinstateErr
	}
	f.w.windowOpen = false
	f.w.events = append(f.w.events, "reinstate")
	return err
}

type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, string, error) { return "hashed:" + pw, "plain", nil }
func (plainHasher) Verify(hash, pw string) bool           { return hash == "hashed:"+pw }
func (plainHasher) NeedsRehash(string) bool               { return false }

type fixture struct {
	svc    *Service
	world  *world
	runner *inlineRunner
	window *fakeWindow
}

func newFixture() *fixture {
	w := newWorld()
	runner := &inlineRunner{}
	window := &fakeWindow{w: w}
	svc := newService(runner, memUsers{w}, memActivities{w}, memStats{w}, fakeAccounts{w: w}, plainHasher{}, nil)
	svc.privileged = func(ctx context.Context, tc tenant.Context, fn func(q sqlx.ExtContext, w Window) error) error {
		if !tc.IsAdmin {
			return apperr.Forbidden("admin privileges required")
		}
		return runner.Run(ctx, tc, func(q sqlx.ExtContext) error { return fn(q, window) })
	}
	return &fixture{svc: svc, world: w, runner: runner, window: window}
}

var (
	rootAdmin = tenant.Context{UserID: 1, SessionTag: "session_1_x", IsAdmin: true}
	opsAdmin  = tenant.Context{UserID: 2, SessionTag: "session_2_x", IsAdmin: true}
	regular   = tenant.Context{UserID: 3, SessionTag: "session_3_x"}
)

func strp(s string) *string { return &s }

func TestOperationsRequireAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ListUsers(ctx, regular, 1, 10, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Stats(ctx, regular)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteUser(ctx, regular, 2), apperr.ErrForbidden)
	_, err = f.svc.Dashboard(ctx, tenant.Context{})
	assert.ErrorIs(t, err, apperr.ErrIsolationViolation)
	assert.Empty(t, f.runner.bound)
}

func TestListUsersPaging(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	page, err := f.svc.ListUsers(ctx, rootAdmin, 1, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.Equal(t, 2, page.PerPage)
	require.Len(t, page.Users, 2)
	assert.Equal(t, "mario", page.Users[0].Username)

	page, err = f.svc.ListUsers(ctx, rootAdmin, 0, 500, "mar")
	require.NoError(t, err)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, MaxPerPage, page.PerPage)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, []tenant.Context{rootAdmin, rootAdmin}, f.runner.bound)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	u, err := f.svc.UpdateUser(ctx, opsAdmin, 3, UserUpdate{Email: strp(" Mario@Example.COM "), Password: strp("newsecret")})
	require.NoError(t, err)
	assert.Equal(t, "mario@example.com", u.Email)
	assert.Equal(t, "hashed:newsecret", u.PasswordHash)
	assert.Equal(t, int64(2), u.Version)

	_, err = f.svc.UpdateUser(ctx, opsAdmin, 3, UserUpdate{Username: strp("no spaces allowed")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.UpdateUser(ctx, opsAdmin, 99, UserUpdate{IsActive: new(bool)})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPrimaryAdminIsImmutable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.UpdateUser(ctx, opsAdmin, 1, UserUpdate{Username: strp("root")})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "admin", f.world.users[1].Username)

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, opsAdmin, 1), apperr.ErrForbidden)
	assert.Contains(t, f.world.users, int64(1))
	assert.NotContains(t, f.world.events, "suspend")
}

func TestDeleteUserRejectsSelf(t *testing.T) {
	f := newFixture()
	err := f.svc.DeleteUser(context.Background(), opsAdmin, 2)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Contains(t, f.world.users, int64(2))
}

func TestDeleteUserRemovesActivitiesInsideWindow(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.svc.DeleteUser(context.Background(), rootAdmin, 3))
	assert.Equal(t, []string{"suspend", "delete-activities", "reinstate", "delete-user"}, f.world.events)
	assert.NotContains(t, f.world.users, int64(3))
	assert.Empty(t, f.world.activities[3])
}

func TestDeleteUserStopsWhenReinstateFails(t *testing.T) {
	f := newFixture()
	f.window.reinstateErr = tenant.ErrBypassReinstate

	err := f.svc.DeleteUser(context.Background(), rootAdmin, 3)
	assert.ErrorIs(t, err, tenant.ErrBypassReinstate)
	assert.Contains(t, f.world.users, int64(3))
	assert.NotContains(t, f.world.events, "delete-user")
	assert.NotContains(t, f.world.events, "delete-user-in-window")
}

func TestDeleteUserMissing(t *testing.T) {
	f := newFixture()
	err := f.svc.DeleteUser(context.Background(), rootAdmin, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateUserPassesAdminFlag(t *testing.T) {
	f := newFixture()
	u, err := f.svc.CreateUser(context.Background(), rootAdmin, NewUser{Username: "luigi", Email: "l@test.it", Password: "secret1", IsAdmin: true})
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	f.svc.accounts = fakeAccounts{err: apperr.Conflict("username already registered")}
	_, err = f.svc.CreateUser(context.Background(), rootAdmin, NewUser{Username: "luigi"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUserActivities(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	items, err := f.svc.UserActivities(ctx, rootAdmin, 3, activityentity.Filter{Status: activityentity.StatusDone})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "read", items[0].Title)

	_, err = f.svc.UserActivities(ctx, rootAdmin, 77, activityentity.Filter{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatsAndDashboard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	st, err := f.svc.Stats(ctx, rootAdmin)
	require.NoError(t, err)
	assert.Equal(t, UserCounts{Total: 3, Active: 3, Admins: 2}, st.Users)
	assert.Equal(t, 2, st.Activities.Total)
	assert.Equal(t, 1, st.Activities.ByStatus[activityentity.StatusDone])
	assert.Len(t, st.PerUser, 3)

	d, err := f.svc.Dashboard(ctx, rootAdmin)
	require.NoError(t, err)
	assert.Len(t, d.RecentUsers, 3)
	assert.Len(t, d.RecentActivities, 2)
	assert.NotNil(t, d.ActivitiesByMonth)
}

func TestStatsPropagatesStoreErrors(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	f.svc.stats = failingStats{memStats{f.world}, boom}

	_, err := f.svc.Stats(context.Background(), rootAdmin)
	assert.ErrorIs(t, err, boom)
}

type failingStats struct {
	memStats
	err error
}

func (f failingStats) PerUser(context.Context, sqlx.ExtContext) ([]adminrepo.UserActivityCount, error) {
	return nil, f.err
}
