package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/citytransit/simcore/internal/eventbus"
)

type fakePool struct {
	execs []string
	args  [][]any
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func TestEnsureSchema_CreatesTableAndIndex(t *testing.T) {
	p := &fakePool{}
	a := New(p)
	if err := a.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(p.execs) != 2 {
		t.Fatalf("expected 2 statements (table + index), got %d", len(p.execs))
	}
}

func TestRecord_InsertsWithEnvelopeFields(t *testing.T) {
	p := &fakePool{}
	a := New(p)
	env := eventbus.Envelope{ID: "e1", Type: "rider:spawned", Source: "simulator", Timestamp: 1000}

	if err := a.Record(context.Background(), env); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(p.args) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(p.args))
	}
	args := p.args[0]
	if args[0] != "e1" || args[1] != "rider:spawned" || args[2] != "simulator" {
		t.Fatalf("unexpected insert args: %v", args)
	}
}

func TestRecord_PropagatesExecError(t *testing.T) {
	wantErr := errors.New("connection reset")
	p := &failingPool{err: wantErr}
	a := New(p)
	env := eventbus.Envelope{ID: "e2", Type: "rider:expired"}

	if err := a.Record(context.Background(), env); !errors.Is(err, wantErr) {
		t.Fatalf("Record error = %v, want %v", err, wantErr)
	}
}

type failingPool struct{ err error }

func (f *failingPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, f.err
}
