package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/harshakreox/ghostqa/internal/domain"
	"go.uber.org/zap/zaptest"
)

var _ domain.FeatureStore = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(ctx, Config{Driver: DriverSQLite, DSN: dsn}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Driver: DriverSQLite, DSN: "file:x.db"}, false},
		{Config{Driver: DriverPostgres, DSN: "postgres://localhost/db"}, false},
		{Config{Driver: "mysql", DSN: "x"}, true},
		{Config{Driver: DriverSQLite}, true},
		{Config{Driver: DriverSQLite, DSN: "x", MaxOpenConns: -1}, true},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}

func TestListChangedSince(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mustNoErr(t, s.UpsertProject(ctx, "shop", "Shop", base))
	mustNoErr(t, s.UpsertFeature(ctx, "shop", "login", "Login", base))
	mustNoErr(t, s.UpsertFeature(ctx, "shop", "cart", "Cart", base.Add(time.Hour)))
	// modify login later; created_at stays
	mustNoErr(t, s.UpsertFeature(ctx, "shop", "login", "Login v2", base.Add(2*time.Hour)))

	units, err := s.ListChangedSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("units = %+v", units)
	}
	cart, login := units[0], units[1]
	if cart.FeatureID != "cart" || !cart.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("cart = %+v", cart)
	}
	if login.FeatureID != "login" || !login.CreatedAt.Equal(base) || !login.ModifiedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("login = %+v", login)
	}

	all, err := s.ListChangedSince(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].FeatureID != "" || all[0].ProjectID != "shop" {
		t.Fatalf("all units = %+v", all)
	}

	none, err := s.ListChangedSince(ctx, base.Add(2*time.Hour))
	if err != nil || len(none) != 0 {
		t.Fatalf("changes at the watermark itself were returned: %+v, %v", none, err)
	}
}

func TestListAllProjects(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		mustNoErr(t, s.UpsertProject(ctx, id, id, now))
	}

	ids, err := s.ListAllProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(ids) != "[alpha mid zeta]" {
		t.Fatalf("projects = %v", ids)
	}
}

func TestRebind(t *testing.T) {
	pg := New(nil, DriverPostgres, zaptest.NewLogger(t))
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := New(nil, DriverSQLite, zaptest.NewLogger(t))
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
