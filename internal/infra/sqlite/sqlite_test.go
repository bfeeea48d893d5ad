package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// SQLite Persistence Tests
// ═══════════════════════════════════════════════════════════════════════════

// compile-time checks
var (
	_ domain.ParticipantStore = (*DB)(nil)
	_ domain.Journal          = (*DB)(nil)
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testParticipant(id, email string) domain.Participant {
	return domain.Participant{
		ID:        id,
		Name:      "Acme " + id,
		Email:     email,
		KYCStatus: domain.KYCPending,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ─── Open ───────────────────────────────────────────────────────────────────

func TestOpen_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(dir)
		if err != nil {
			t.Fatalf("Open() #%d error: %v", i, err)
		}
		db.Close()
	}
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.InsertParticipant(context.Background(), testParticipant("p1", "a@x.io")); err != nil {
		t.Fatal(err)
	}
}

// ─── Participants ───────────────────────────────────────────────────────────

func TestInsertAndGetParticipant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := testParticipant("p1", "ops@acme.io")
	p.Verified = true
	p.Rating = 4.5
	if err := db.InsertParticipant(ctx, p); err != nil {
		t.Fatalf("InsertParticipant() error: %v", err)
	}

	got, err := db.GetParticipant(ctx, "p1")
	if err != nil {
		t.Fatalf("GetParticipant() error: %v", err)
	}
	if got.Email != "ops@acme.io" || !got.Verified || got.Rating != 4.5 {
		t.Errorf("got %+v", got)
	}
	if got.KYCStatus != domain.KYCPending {
		t.Errorf("KYCStatus = %q, want pending", got.KYCStatus)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, p.CreatedAt)
	}

	byEmail, err := db.GetParticipantByEmail(ctx, "OPS@acme.io")
	if err != nil {
		t.Fatalf("GetParticipantByEmail() error: %v", err)
	}
	if byEmail.ID != "p1" {
		t.Errorf("by email id = %q, want p1", byEmail.ID)
	}
}

func TestInsertParticipant_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.InsertParticipant(ctx, testParticipant("p1", "dup@acme.io")); err != nil {
		t.Fatal(err)
	}
	err := db.InsertParticipant(ctx, testParticipant("p2", "dup@acme.io"))
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Errorf("error = %v, want ErrEmailTaken", err)
	}
}

func TestGetParticipant_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetParticipant(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Errorf("error = %v, want ErrParticipantNotFound", err)
	}
}

func TestUpdateParticipant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := testParticipant("p1", "a@acme.io")
	db.InsertParticipant(ctx, p)

	p.Verified = true
	p.KYCStatus = domain.KYCApproved
	p.TotalHoursDelivered = 12.5
	if err := db.UpdateParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetParticipant(ctx, "p1")
	if !got.Verified || got.KYCStatus != domain.KYCApproved || got.TotalHoursDelivered != 12.5 {
		t.Errorf("update not persisted: %+v", got)
	}

	ghost := testParticipant("ghost", "g@acme.io")
	if err := db.UpdateParticipant(ctx, ghost); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Errorf("update ghost error = %v, want ErrParticipantNotFound", err)
	}
}

func TestListParticipants(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.InsertParticipant(ctx, testParticipant("p1", "a@x.io"))
	db.InsertParticipant(ctx, testParticipant("p2", "b@x.io"))

	list, err := db.ListParticipants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("len = %d, want 2", len(list))
	}
}

// ─── Journal ────────────────────────────────────────────────────────────────

func TestJournal_AppendAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	entries := []domain.Transaction{
		{ID: "t1", ParticipantID: "p1", Kind: domain.TxGrant, Amount: decimal.NewFromInt(100), Description: "welcome grant", Timestamp: ts},
		{ID: "t2", ParticipantID: "p1", Kind: domain.TxSpend, Amount: decimal.RequireFromString("-64.5"), ServiceID: "s1", Timestamp: ts.Add(time.Hour)},
		{ID: "t3", ParticipantID: "p2", Kind: domain.TxEarn, Amount: decimal.RequireFromString("64.5"), CounterpartyID: "p1", Timestamp: ts.Add(time.Hour)},
	}
	for _, tx := range entries {
		if err := db.AppendTransaction(ctx, tx); err != nil {
			t.Fatalf("AppendTransaction(%s) error: %v", tx.ID, err)
		}
	}

	list, err := db.ListTransactions(ctx, "p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != "t2" {
		t.Errorf("newest first: got %s, want t2", list[0].ID)
	}
	if !list[0].Amount.Equal(decimal.RequireFromString("-64.5")) {
		t.Errorf("amount = %s, want -64.5", list[0].Amount)
	}
	if list[0].ServiceID != "s1" {
		t.Errorf("ServiceID = %q, want s1", list[0].ServiceID)
	}

	limited, _ := db.ListTransactions(ctx, "p1", 1)
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}

	n, _ := db.CountTransactions(ctx, "p1")
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestJournal_DuplicateIDRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tx := domain.Transaction{ID: "t1", ParticipantID: "p1", Kind: domain.TxEarn, Amount: decimal.NewFromInt(1), Timestamp: time.Now()}
	if err := db.AppendTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendTransaction(ctx, tx); err == nil {
		t.Error("duplicate transaction id should be rejected")
	}
}

func TestJournal_Totals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()
	db.AppendTransaction(ctx, domain.Transaction{ID: "a", ParticipantID: "p1", Kind: domain.TxEarn, Amount: decimal.RequireFromString("10.1"), Timestamp: now})
	db.AppendTransaction(ctx, domain.Transaction{ID: "b", ParticipantID: "p1", Kind: domain.TxEarn, Amount: decimal.RequireFromString("0.2"), Timestamp: now})
	db.AppendTransaction(ctx, domain.Transaction{ID: "c", ParticipantID: "p1", Kind: domain.TxDecay, Amount: decimal.RequireFromString("-0.3"), Timestamp: now})

	totals, err := db.TransactionTotals(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !totals[domain.TxEarn].Equal(decimal.RequireFromString("10.3")) {
		t.Errorf("earn total = %s, want 10.3", totals[domain.TxEarn])
	}
	if !totals[domain.TxDecay].Equal(decimal.RequireFromString("-0.3")) {
		t.Errorf("decay total = %s, want -0.3", totals[domain.TxDecay])
	}
}

// ─── Settings ───────────────────────────────────────────────────────────────

func TestCategories_UpsertAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := domain.ServiceCategory{ID: "web-development", Name: "Web", RatePerHour: decimal.NewFromInt(8), DemandMultiplier: 1, StandardHours: 8}
	if err := db.UpsertCategory(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.RatePerHour = decimal.RequireFromString("9.5")
	if err := db.UpsertCategory(ctx, c); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if !list[0].RatePerHour.Equal(decimal.RequireFromString("9.5")) {
		t.Errorf("rate = %s, want 9.5", list[0].RatePerHour)
	}
}

func TestPolicy_SaveAndLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	empty, err := db.LoadPolicy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("fresh policy = %v, want empty", empty)
	}

	db.SavePolicy(ctx, map[string]string{"daily_decay_rate": "0.001", "max_borrow": "500"})
	db.SavePolicy(ctx, map[string]string{"max_borrow": "750"})

	got, _ := db.LoadPolicy(ctx)
	if got["max_borrow"] != "750" || got["daily_decay_rate"] != "0.001" {
		t.Errorf("policy = %v", got)
	}
}
