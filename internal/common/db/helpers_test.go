package db

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicateKey(t *testing.T) {
	t.Parallel()
	dup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'd1-r1' for key 'PRIMARY'"})
	if !IsDuplicateKey(dup) {
		t.Fatalf("expected wrapped 1062 to be a duplicate key")
	}
	if IsDuplicateKey(&mysql.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock must not be reported as duplicate")
	}
	if IsDuplicateKey(sql.ErrNoRows) {
		t.Fatalf("plain error must not be reported as duplicate")
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()
	if !IsNoRows(fmt.Errorf("get: %w", sql.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows")
	}
	if IsNoRows(nil) {
		t.Fatalf("nil is not ErrNoRows")
	}
}
