package main

import (
	"context"
	"fmt"

	"github.com/kitt-bench/controller/internal/agentrt"
)

func handleFingerprint(ctx context.Context) error {
	hw, err := agentrt.NewHostDetector().Detect(ctx)
	if err != nil {
		return fmt.Errorf("detect hardware: %w", err)
	}
	fmt.Println(agentrt.Fingerprint(hw))
	return nil
}
