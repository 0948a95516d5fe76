package mssql

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerFiltersBelowCategoryLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogConfig{DefaultLevel: LevelWarn, Output: &buf, Format: FormatText})

	l.Info(CategoryConnection, "dialing")
	if buf.Len() != 0 {
		t.Fatalf("expected Info to be filtered at Warn level, got %q", buf.String())
	}

	l.Warn(CategoryConnection, "slow dial")
	if buf.Len() == 0 {
		t.Fatal("expected Warn to pass at Warn level")
	}
}

func TestLoggerPerCategoryLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogConfig{
		DefaultLevel:   LevelOff,
		CategoryLevels: map[Category]Level{CategoryPool: LevelDebug},
		Output:         &buf,
		Format:         FormatText,
	})

	l.Debug(CategoryConnection, "should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected connection category to stay at Off, got %q", buf.String())
	}

	l.Pool().Debug("borrow")
	if !strings.Contains(buf.String(), "borrow") {
		t.Fatalf("expected pool category override to log, got %q", buf.String())
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogConfig{DefaultLevel: LevelInfo, Output: &buf, Format: FormatJSON})

	l.Execution().Error("query failed", errors.New("timeout"), "sql", "SELECT 1")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal: %v, line = %q", err, buf.String())
	}
	if entry.Category != CategoryExecution || entry.Message != "query failed" || entry.ErrorStr != "timeout" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Fields["sql"] != "SELECT 1" {
		t.Fatalf("entry.Fields[sql] = %v", entry.Fields["sql"])
	}
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	l := NopLogger()
	l.Connection().Error("should not panic or write anywhere", errors.New("x"))
}
