package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/anvil/internal/gateway"
)

func TestAppendAndHistoryRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	msgs := []gateway.Message{
		{Role: gateway.RoleUser, Content: "read the config"},
		{Role: gateway.RoleAssistant, Content: "reading", ToolCalls: []gateway.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "config.yaml"}},
		}},
		{Role: gateway.RoleTool, ToolCallID: "c1", Content: "key: value"},
		{Role: gateway.RoleAssistant, Content: "the config sets key to value"},
	}
	for _, m := range msgs {
		if err := store.Append(ctx, "conv_1", m); err != nil {
			t.Fatal(err)
		}
	}

	history, err := store.History(ctx, "conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != len(msgs) {
		t.Fatalf("len(history) = %d, want %d", len(history), len(msgs))
	}
	if history[1].ToolCalls[0].Name != "read_file" {
		t.Fatalf("tool calls not preserved: %+v", history[1])
	}
	if history[2].ToolCallID != "c1" {
		t.Fatalf("tool_call_id not preserved: %+v", history[2])
	}

	ids, err := store.Conversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "conv_1" {
		t.Fatalf("Conversations = %v", ids)
	}
}

func TestHistoryEmptyConversation(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	history, err := store.History(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Fatalf("len(history) = %d, want 0", len(history))
	}
}

func TestAppendSurfacesInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewWithDB(db, nil)

	mock.ExpectExec("INSERT OR IGNORE INTO conversations").
		WithArgs("conv_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(errors.New("disk I/O error"))

	err = store.Append(context.Background(), "conv_1", gateway.Message{
		Role: gateway.RoleUser, Content: "hello",
	})
	if err == nil {
		t.Fatal("expected insert error to surface")
	}
	if mockErr := mock.ExpectationsWereMet(); mockErr != nil {
		t.Fatalf("unmet expectations: %v", mockErr)
	}
}
