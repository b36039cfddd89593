package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".loadcheck-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func printStepHeader() {
	fmt.Printf("%-8s %-6s %-10s %-10s %-10s %-8s\n", "clients", "rooms", "err_rate", "join_p95", "queue_drop", "result")
}

func printStepResult(step StepResult) {
	result := "PASS"
	if !step.Passed {
		result = "FAIL"
	}

	fmt.Printf("%-8d %-6d %-10.4f %-10.1f %-10d %-8s\n",
		step.TargetClients,
		step.TargetRooms,
		step.ErrorRate,
		step.ClientJoinP95Ms,
		step.SendQueueDropDelta,
		result,
	)
	if step.FailReason != "" {
		fmt.Printf("  reason: %s\n", step.FailReason)
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// randomRoomID generates an arbitrary human-exchangeable rendezvous code.
// Wisp treats room ids as opaque strings with no server-issued signature, so
// any unique token will do for load generation.
func randomRoomID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}
