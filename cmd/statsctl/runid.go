package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// stampRunID writes a UUIDv7 run ID and timestamp to "<basePath>/.last_run"
// via an atomic rename, so an operator can tell which statsctl invocation
// last mutated a directory. Mirrors the teacher's NewUUIDv7 idiom
// (internal/store/ids.go), re-homed for a one-shot CLI marker instead of
// a ticket ID.
func stampRunID(basePath, command string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("new run id: %w", err)
	}

	line := fmt.Sprintf("%s\t%s\t%s\n", id, command, time.Now().UTC().Format(time.RFC3339))

	err = atomic.WriteFile(filepath.Join(basePath, ".last_run"), strings.NewReader(line))
	if err != nil {
		return fmt.Errorf("stamp run id: %w", err)
	}

	return nil
}
