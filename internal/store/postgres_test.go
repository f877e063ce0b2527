package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

const testTableDSNEnv = "SUIT_TEST_POSTGRES_DSN"

func testDSN(t *testing.T) string {
	dsn := os.Getenv(testTableDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping postgres-backed test", testTableDSNEnv)
	}
	return dsn
}

func initStore(t *testing.T) *Postgres {
	dsn := testDSN(t)

	params := PoolParams{MaxOpenConns: 5, MaxIdleConns: 5}
	s, err := NewPostgres(dsn, params, nil)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	return s
}

func cleanUp(t *testing.T, s *Postgres) {
	if _, err := s.db.Exec("DROP TABLE " + tableName + ";"); err != nil {
		t.Error(err)
	}
	if err := s.Close(); err != nil {
		t.Error(err)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	s := initStore(t)
	defer cleanUp(t, s)

	_, found, err := s.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("Get reported a sequence number for a device that was never recorded")
	}
}

func TestPostgresAdvanceThenGet(t *testing.T) {
	s := initStore(t)
	defer cleanUp(t, s)

	uid := uuid.New()

	if err := s.Advance(context.Background(), uid, 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	seq, found, err := s.Get(context.Background(), uid)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("Get reported no sequence number after Advance")
	}
	if seq != 1 {
		t.Fatalf("sequence number = %d, want 1", seq)
	}
}

func TestPostgresAdvanceRejectsRollback(t *testing.T) {
	s := initStore(t)
	defer cleanUp(t, s)

	uid := uuid.New()

	if err := s.Advance(context.Background(), uid, 5); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if err := s.Advance(context.Background(), uid, 5); err != ErrRollback {
		t.Fatalf("Advance with equal sequence number = %v, want ErrRollback", err)
	}
	if err := s.Advance(context.Background(), uid, 3); err != ErrRollback {
		t.Fatalf("Advance with lower sequence number = %v, want ErrRollback", err)
	}

	seq, _, err := s.Get(context.Background(), uid)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 5 {
		t.Fatalf("sequence number after rejected rollback = %d, want unchanged 5", seq)
	}
}

func TestPostgresAdvanceMonotonic(t *testing.T) {
	s := initStore(t)
	defer cleanUp(t, s)

	uid := uuid.New()

	for _, seq := range []uint64{1, 2, 10, 11} {
		if err := s.Advance(context.Background(), uid, seq); err != nil {
			t.Fatalf("Advance(%d): %v", seq, err)
		}
	}

	got, _, err := s.Get(context.Background(), uid)
	if err != nil {
		t.Fatal(err)
	}
	if got != 11 {
		t.Fatalf("sequence number = %d, want 11", got)
	}
}
