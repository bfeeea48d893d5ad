package directory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centi-network/centi/internal/app/ledger"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/reputation"
	"github.com/centi-network/centi/internal/infra/sqlite"
)

type fixture struct {
	dir     *Directory
	ledger  *ledger.Ledger
	tracker *reputation.Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := ledger.New(ledger.Options{Journal: db})
	tr := reputation.NewTracker(nil)
	return fixture{
		dir:     New(Options{Store: db, Ledger: l, Reputation: tr}),
		ledger:  l,
		tracker: tr,
	}
}

func TestRegister_ActivatesBalanceAndReputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.dir.Register(ctx, "  Acme Design ", "Hello@Acme.io", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Acme Design", p.Name)
	assert.Equal(t, "hello@acme.io", p.Email)
	assert.Equal(t, domain.KYCIncomplete, p.KYCStatus)
	assert.False(t, p.Verified)

	b, err := f.ledger.Balance(p.ID)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(decimal.NewFromInt(100)), "grant %s", b.Available)

	rep, ok := f.tracker.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, rep.Score, p.Reputation)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dir.Register(ctx, "First", "dup@example.com", "h1")
	require.NoError(t, err)
	_, err = f.dir.Register(ctx, "Second", "DUP@example.com", "h2")
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	all, err := f.dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name, email, hash string
	}{
		{"", "a@b.io", "h"},
		{"Acme", "not-an-email", "h"},
		{"Acme", "a@b.io", ""},
	}
	for _, tt := range tests {
		_, err := f.dir.Register(ctx, tt.name, tt.email, tt.hash)
		assert.Error(t, err, "%+v", tt)
	}
	all, err := f.dir.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.dir.Register(ctx, "Acme", "ops@acme.io", "h")
	require.NoError(t, err)

	got, err := f.dir.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Email, got.Email)

	got, err = f.dir.GetByEmail(ctx, " OPS@acme.io")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.dir.Get(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestGet_RefreshesRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.dir.Register(ctx, "Acme", "ops@acme.io", "h")
	require.NoError(t, err)
	_, err = f.tracker.RecordRating(p.ID, 4)
	require.NoError(t, err)

	got, err := f.dir.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got.Rating, 1e-9)
}

func TestSetVerifiedAndKYC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.dir.Register(ctx, "Acme", "ops@acme.io", "h")
	require.NoError(t, err)

	p, err = f.dir.SetVerified(ctx, p.ID, true)
	require.NoError(t, err)
	assert.True(t, p.Verified)

	p, err = f.dir.SetKYCStatus(ctx, p.ID, domain.KYCApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.KYCApproved, p.KYCStatus)

	_, err = f.dir.SetKYCStatus(ctx, p.ID, "bogus")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := f.dir.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, domain.KYCApproved, got.KYCStatus)

	_, err = f.dir.SetVerified(ctx, "nobody", true)
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestAddHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.dir.Register(ctx, "Acme", "ops@acme.io", "h")
	require.NoError(t, err)

	require.NoError(t, f.dir.AddHours(ctx, p.ID, 8, 0))
	require.NoError(t, f.dir.AddHours(ctx, p.ID, 0, 3))
	require.NoError(t, f.dir.AddHours(ctx, p.ID, 2, 0))

	got, err := f.dir.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.TotalHoursDelivered, 1e-9)
	assert.InDelta(t, 3.0, got.TotalHoursReceived, 1e-9)

	assert.NoError(t, f.dir.AddHours(ctx, "ledger-only", 1, 0), "unknown participants are skipped")
	assert.ErrorIs(t, f.dir.AddHours(ctx, p.ID, -1, 0), domain.ErrInvalidAmount)
}
