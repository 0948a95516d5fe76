package assembler

import (
	"testing"

	"github.com/ha1tch/gotds/internal/wire"
)

func TestSingleResultSetWithCount(t *testing.T) {
	a := New()
	cols := []wire.Column{{Name: "id"}, {Name: "name"}}

	feed(t, a, wire.ColMetadataToken{Columns: cols})
	feed(t, a, wire.RowToken{Values: []interface{}{int64(1), "alice"}})
	feed(t, a, wire.RowToken{Values: []interface{}{int64(2), "bob"}})
	final := feed(t, a, wire.DoneToken{Kind: wire.TokenDone, Status: wire.DoneCount, RowCount: 2})

	if !final {
		t.Fatal("expected final=true on non-MORE DONE")
	}
	res := a.Result()
	if len(res.ResultSets) != 1 {
		t.Fatalf("got %d result sets, want 1", len(res.ResultSets))
	}
	rs := res.ResultSets[0]
	if len(rs.Rows) != 2 || rs.RowsAffected != 2 {
		t.Errorf("rs = %+v", rs)
	}
	if res.Err != nil {
		t.Errorf("unexpected error: %v", res.Err)
	}
}

func TestHardErrorSurfacesAsErr(t *testing.T) {
	a := New()
	feed(t, a, wire.ServerMessageToken{Kind: wire.TokenError, Severity: 16, Message: "bad syntax"})
	final := feed(t, a, wire.DoneToken{Kind: wire.TokenDone, Status: wire.DoneError})

	if !final {
		t.Fatal("expected final=true")
	}
	res := a.Result()
	if res.Err == nil {
		t.Fatal("expected Err to be set for severity >= 11")
	}
	if res.Err.Error() != "bad syntax" {
		t.Errorf("Err = %v", res.Err)
	}
}

func TestWarningDoesNotSetErr(t *testing.T) {
	a := New()
	feed(t, a, wire.ServerMessageToken{Kind: wire.TokenInfo, Severity: 0, Message: "informational"})
	feed(t, a, wire.DoneToken{Kind: wire.TokenDone})

	res := a.Result()
	if res.Err != nil {
		t.Errorf("unexpected error for INFO message: %v", res.Err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
}

func TestMultipleResultSetsViaIntermediateDone(t *testing.T) {
	a := New()
	feed(t, a, wire.ColMetadataToken{Columns: []wire.Column{{Name: "a"}}})
	feed(t, a, wire.RowToken{Values: []interface{}{int64(1)}})
	feed(t, a, wire.DoneToken{Kind: wire.TokenDone, Status: wire.DoneCount | wire.DoneMore, RowCount: 1})

	feed(t, a, wire.ColMetadataToken{Columns: []wire.Column{{Name: "b"}}})
	feed(t, a, wire.RowToken{Values: []interface{}{int64(2)}})
	final := feed(t, a, wire.DoneToken{Kind: wire.TokenDone, Status: wire.DoneCount, RowCount: 1})

	if !final {
		t.Fatal("expected final on second DONE")
	}
	res := a.Result()
	if len(res.ResultSets) != 2 {
		t.Fatalf("got %d result sets, want 2", len(res.ResultSets))
	}
	if res.RowsAffected != 2 {
		t.Errorf("RowsAffected = %d, want 2", res.RowsAffected)
	}
}

func TestCancelledDoneSetsCancelledFlag(t *testing.T) {
	a := New()
	final := feed(t, a, wire.DoneToken{Kind: wire.TokenDone, Status: wire.DoneAttn})
	if !final {
		t.Fatal("expected final=true")
	}
	if !a.Result().Cancelled {
		t.Error("expected Cancelled to be set")
	}
}

func feed(t *testing.T, a *Assembler, tok wire.Token) bool {
	t.Helper()
	final, err := a.Feed(tok)
	if err != nil {
		t.Fatalf("Feed(%T): %v", tok, err)
	}
	return final
}
