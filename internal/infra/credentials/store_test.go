package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token   string
	err     error
	queried string
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if len(args) > 0 {
		s.queried, _ = args[0].(string)
	}
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestTripoAPIKey(t *testing.T) {
	exec := &stubExecutor{token: " tsk_abc "}
	store := NewStore(exec)
	key, err := store.TripoAPIKey(context.Background())
	if err != nil {
		t.Fatalf("TripoAPIKey error: %v", err)
	}
	if key != "tsk_abc" {
		t.Fatalf("expected tsk_abc, got %q", key)
	}
	if exec.queried != ProviderTripo {
		t.Fatalf("queried provider %q", exec.queried)
	}
}

func TestTripoAPIKey_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.TripoAPIKey(context.Background())
	if err != nil {
		t.Fatalf("TripoAPIKey error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestTripoAPIKey_Error(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("boom")})
	if _, err := store.TripoAPIKey(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetTripoAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetTripoAPIKey(context.Background(), "secret"); err != nil {
		t.Fatalf("SetTripoAPIKey error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderTripo {
		t.Fatalf("expected tripo provider, got %v", exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTripoAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetTripoAPIKey(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestOpenAIAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " sk-test "})
	key, err := store.OpenAIAPIKey(context.Background())
	if err != nil {
		t.Fatalf("OpenAIAPIKey error: %v", err)
	}
	if key != "sk-test" {
		t.Fatalf("expected sk-test, got %q", key)
	}
}

func TestSetOpenAIAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetOpenAIAPIKey(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestResolvePrefersExplicitKey(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	store := NewStore(exec)
	key, err := store.Resolve(context.Background(), ProviderTripo, " env-key ")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "env-key" {
		t.Fatalf("expected env-key, got %q", key)
	}
	if exec.queried != "" {
		t.Fatal("store should not be queried when an explicit key is given")
	}
	key, err = store.Resolve(context.Background(), ProviderTripo, "")
	if err != nil || key != "stored" {
		t.Fatalf("Resolve fallback = %q, %v", key, err)
	}
}
