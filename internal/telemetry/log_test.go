package telemetry

import "testing"

func TestSetComponentLevelOverridesIndependentlyOfGlobal(t *testing.T) {
	SetLevel(LevelError)
	SetComponentLevel("replication", LevelDebug)
	defer func() {
		SetLevel(LevelInfo)
		SetComponentLevel("replication", LevelInfo)
	}()

	levels := ComponentLevels()
	if levels["replication"] != LevelDebug {
		t.Fatalf("expected replication override to be debug, got %v", levels["replication"])
	}

	logger := For("replication")
	if logger.GetLevel().String() != "debug" {
		t.Fatalf("expected child logger to carry the debug override, got %v", logger.GetLevel())
	}
}

func TestComponentLevelsSnapshotIsIndependentOfInternalMap(t *testing.T) {
	SetComponentLevel("engine", LevelWarn)
	defer SetComponentLevel("engine", LevelInfo)

	snapshot := ComponentLevels()
	snapshot["engine"] = LevelError

	if levels := ComponentLevels(); levels["engine"] != LevelWarn {
		t.Fatalf("mutating a returned snapshot should not affect subsequent reads, got %v", levels["engine"])
	}
}
