// v0
// internal/dashboard/users_test.go
package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"homemon/internal/reading"
	"homemon/internal/store"
)

func siteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestUsersRegisterAndAuthenticate(t *testing.T) {
	users, err := NewUsers(siteDB(t))
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	users.cost = bcrypt.MinCost
	ctx := context.Background()

	u, err := users.Register(ctx, " op@example.com ", "Operator", "hunter2hunter2", "hunter2hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "op@example.com" || u.PasswordHash == "hunter2hunter2" {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, err := users.Authenticate(ctx, "op@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := users.Authenticate(ctx, "op@example.com", "wrong"); !errors.Is(err, ErrBadPassword) {
		t.Fatalf("expected ErrBadPassword, got %v", err)
	}
	if _, err := users.Authenticate(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrEmailNotFound) {
		t.Fatalf("expected ErrEmailNotFound, got %v", err)
	}
}

func TestUsersRegisterRules(t *testing.T) {
	users, err := NewUsers(siteDB(t))
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	users.cost = bcrypt.MinCost
	ctx := context.Background()
	if _, err := users.Register(ctx, "", "", "longenough", "longenough"); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := users.Register(ctx, "a@example.com", "", "1234567", "1234567"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := users.Register(ctx, "a@example.com", "", "12345678", "12345679"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if _, err := users.Register(ctx, "a@example.com", "", "12345678", "12345678"); err != nil {
		t.Fatalf("eight characters should be accepted: %v", err)
	}
	if _, err := users.Register(ctx, "a@example.com", "", "12345678", "12345678"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestCalibrationsFit(t *testing.T) {
	cals, err := NewCalibrations(siteDB(t))
	if err != nil {
		t.Fatalf("calibrations: %v", err)
	}
	ctx := context.Background()
	if _, ok, err := cals.Fit(ctx); err != nil || ok {
		t.Fatalf("expected no fit without pairs, ok=%v err=%v", ok, err)
	}
	line := reading.Line{Slope: 0.005, Intercept: -2}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, raw := range []int64{1000, 5000, 9000} {
		r := reading.Reading{Timestamp: base.Add(time.Duration(i) * time.Minute), RawValue: raw, Voltage: float64(raw) * 0.000125}
		if _, err := cals.Add(ctx, r, line.Apply(raw)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	fit, ok, err := cals.Fit(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a fit, ok=%v err=%v", ok, err)
	}
	if fit.Pairs != 3 || fit.RSquared < 0.9999 {
		t.Fatalf("unexpected fit %+v", fit)
	}
	if d := fit.Line.Slope - 0.005; d > 1e-9 || d < -1e-9 {
		t.Fatalf("expected slope 0.005, got %v", fit.Line.Slope)
	}
	rows, err := cals.List(ctx)
	if err != nil || len(rows) != 3 || rows[0].RawValue != 1000 {
		t.Fatalf("unexpected rows %+v err=%v", rows, err)
	}
}
