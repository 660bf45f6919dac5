package logger_test

import (
	"testing"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger/memory"
)

func TestLoggerFansOutToAllInstances(t *testing.T) {
	a := memory.NewMemoryLogger()
	b := memory.NewMemoryLogger()
	logger.Init(a, b)
	t.Cleanup(func() { logger.Init() })

	logger.Warn("artifact write failed", "request_id", "req_1", "artifact", "envelope")
	logger.Log("plain", "k", "v")

	for _, m := range []*memory.MemoryLogger{a, b} {
		got := m.Find("warn", "artifact write failed")
		if len(got) != 1 {
			t.Fatalf("expected 1 warn entry, got %d", len(got))
		}
		if got[0].Fields["request_id"] != "req_1" {
			t.Fatalf("expected request_id field, got %v", got[0].Fields)
		}
		plain := m.Find("log", "plain")
		if len(plain) != 1 || plain[0].Fields["k"] != "v" {
			t.Fatalf("expected keyvals to reach Log, got %v", plain)
		}
	}
}

func TestLoggerWithoutInitIsNoop(t *testing.T) {
	logger.Init()
	logger.Info("nobody listens")
}
