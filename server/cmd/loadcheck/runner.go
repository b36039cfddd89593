package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type roomPair struct {
	roomID string
	host   *loadClient
	peer   *loadClient
}

func runSweep(ctx context.Context, cfg Config) (SweepReport, error) {
	report := SweepReport{
		GeneratedAtRFC3339: nowRFC3339(),
		Config:             cfg,
		Steps:              make([]StepResult, 0),
	}

	ops := newOpsClient(cfg)

	printStepHeader()
	lastPassing := 0
	stoppedAt := 0
	finalReason := "max clients reached"

	for target := cfg.StartClients; target <= cfg.MaxClients; target += cfg.StepClients {
		stepResult, err := runStep(ctx, cfg, target, ops)
		if err != nil {
			stepResult.Passed = false
			if stepResult.FailReason == "" {
				stepResult.FailReason = err.Error()
			}
			report.Steps = append(report.Steps, stepResult)
			printStepResult(stepResult)
			stoppedAt = stepResult.TargetClients
			finalReason = stepResult.FailReason
			break
		}

		report.Steps = append(report.Steps, stepResult)
		printStepResult(stepResult)

		if stepResult.Passed {
			lastPassing = stepResult.TargetClients
			continue
		}

		stoppedAt = stepResult.TargetClients
		if stepResult.FailReason != "" {
			finalReason = stepResult.FailReason
		} else {
			finalReason = "SLO threshold failed"
		}
		break
	}

	if stoppedAt == 0 && len(report.Steps) > 0 {
		stoppedAt = report.Steps[len(report.Steps)-1].TargetClients
	}

	report.LastPassingClients = lastPassing
	report.StoppedAtClients = stoppedAt
	report.FinalReason = finalReason

	return report, nil
}

func runStep(parent context.Context, cfg Config, requestedClients int, ops *opsClient) (StepResult, error) {
	started := time.Now()
	stepCtx, cancel := context.WithCancel(parent)
	defer cancel()

	targetClients := requestedClients
	if targetClients%2 != 0 {
		targetClients--
	}
	if targetClients <= 0 {
		targetClients = 2
	}
	targetRooms := targetClients / 2

	metrics := &StepMetrics{}

	if err := waitForHubStabilization(stepCtx, cfg, ops); err != nil {
		return failedStep(started, targetClients, targetRooms, fmt.Sprintf("hub stabilization interrupted: %v", err)), err
	}
	metricsStart, metricsStartErr := ops.FetchMetrics(stepCtx)

	roomIDs := make([]string, targetRooms)
	for i := range roomIDs {
		roomIDs[i] = randomRoomID()
	}

	pairs := make([]roomPair, 0, targetRooms)
	clients := make([]*loadClient, 0, targetClients)
	for i := 0; i < targetRooms; i++ {
		host := newLoadClient(i*2, roomIDs[i], cfg.WSURL, time.Duration(cfg.JoinTimeoutSeconds)*time.Second, metrics)
		peer := newLoadClient(i*2+1, roomIDs[i], cfg.WSURL, time.Duration(cfg.JoinTimeoutSeconds)*time.Second, metrics)
		pairs = append(pairs, roomPair{roomID: roomIDs[i], host: host, peer: peer})
		clients = append(clients, host, peer)
	}

	var rampWG sync.WaitGroup
	rampInterval := time.Duration(0)
	if len(clients) > 1 {
		rampInterval = (time.Duration(cfg.RampSeconds) * time.Second) / time.Duration(len(clients)-1)
	}

	rampStopped := false
rampLoop:
	for i, client := range clients {
		if i > 0 && rampInterval > 0 {
			select {
			case <-stepCtx.Done():
				rampStopped = true
				break rampLoop
			case <-time.After(rampInterval):
			}
		}
		rampWG.Add(1)
		go func(c *loadClient) {
			defer rampWG.Done()
			joinCtx, joinCancel := context.WithTimeout(stepCtx, time.Duration(cfg.JoinTimeoutSeconds)*time.Second)
			defer joinCancel()
			_ = c.connectAndJoin(joinCtx)
		}(client)
	}
	rampWG.Wait()
	if rampStopped {
		err := stepCtx.Err()
		if err == nil {
			err = context.Canceled
		}
		return failedStep(started, targetClients, targetRooms, fmt.Sprintf("ramp canceled: %v", err)), err
	}

	relayCancel, relayWG := startRelayLoops(stepCtx, cfg, pairs)

	steadyTimer := time.NewTimer(time.Duration(cfg.SteadySeconds) * time.Second)
	select {
	case <-stepCtx.Done():
		steadyTimer.Stop()
	case <-steadyTimer.C:
	}

	relayCancel()
	relayWG.Wait()

	metricsEnd, metricsEndErr := ops.FetchMetrics(stepCtx)

	for _, client := range clients {
		client.close()
	}
	if cfg.CooldownSeconds > 0 {
		select {
		case <-stepCtx.Done():
		case <-time.After(time.Duration(cfg.CooldownSeconds) * time.Second):
		}
	}

	ended := time.Now()
	result := metrics.ToStepResult(targetClients, targetRooms, started, ended)
	result.MetricsAvailable = metricsStartErr == nil && metricsEndErr == nil
	if result.MetricsAvailable {
		delta := int64(metricsEnd.MessagesDroppedTotal - metricsStart.MessagesDroppedTotal)
		if delta < 0 {
			delta = 0
		}
		result.SendQueueDropDelta = delta
	}

	result = evaluateStep(cfg, result)
	return result, nil
}

func failedStep(started time.Time, targetClients, targetRooms int, reason string) StepResult {
	return StepResult{
		TargetClients:    targetClients,
		TargetRooms:      targetRooms,
		StartedAtRFC3339: started.UTC().Format(time.RFC3339),
		EndedAtRFC3339:   time.Now().UTC().Format(time.RFC3339),
		DurationSeconds:  int64(time.Since(started).Seconds()),
		FailReason:       reason,
	}
}

// waitForHubStabilization polls /health for at least PreRampStabilizeSeconds
// before ramping the next step, so one step's teardown doesn't bleed into the
// next step's numbers. After that minimum it returns once client_count and
// room_count have read zero twice in a row, or if /health never answered, or
// at the latest five seconds later whatever the counts say.
func waitForHubStabilization(ctx context.Context, cfg Config, ops *opsClient) error {
	if cfg.PreRampStabilizeSeconds <= 0 {
		return nil
	}

	minDeadline := time.Now().Add(time.Duration(cfg.PreRampStabilizeSeconds) * time.Second)
	maxDeadline := minDeadline.Add(5 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	healthSeen := false
	consecutiveIdle := 0

	for {
		snapshot, err := ops.FetchHealth(ctx)
		if err == nil {
			healthSeen = true
			if snapshot.ClientCount == 0 && snapshot.RoomCount == 0 {
				consecutiveIdle++
			} else {
				consecutiveIdle = 0
			}
		} else if healthSeen {
			consecutiveIdle = 0
		}

		now := time.Now()
		if now.After(minDeadline) {
			if !healthSeen || consecutiveIdle >= 2 || now.After(maxDeadline) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func startRelayLoops(ctx context.Context, cfg Config, rooms []roomPair) (context.CancelFunc, *sync.WaitGroup) {
	relayCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	if cfg.OfferRatePerRoom <= 0 {
		return cancel, wg
	}

	interval := time.Duration(float64(time.Second) / cfg.OfferRatePerRoom)
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}

	for _, room := range rooms {
		r := room
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			var counter int64
			for {
				select {
				case <-relayCtx.Done():
					return
				case <-ticker.C:
					counter++
					_ = r.host.sendRelayICE(counter)
				}
			}
		}()
	}

	return cancel, wg
}
