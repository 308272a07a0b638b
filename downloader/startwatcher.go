package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"boardcrawl/logging"
)

// ErrDownloadStalled is returned when a progress bar stops moving.
var ErrDownloadStalled = errors.New("download stalled")

// ProgressProbe reads a download progress element. visible is false while
// the download runs.
type ProgressProbe func(ctx context.Context) (visible bool, progress float64, err error)

// StartPolicy controls how a running download is followed through the
// page's progress element.
type StartPolicy struct {
	Interval      time.Duration
	LatencyFactor float64
	MinTimeout    time.Duration
	Ceiling       time.Duration
	CeilingJitter float64 // a timeout above Ceiling becomes Ceiling*(1+U(0,jitter))
	MaxStalls     int     // the stall counter may reach this value; one more stall then stops the wait
}

// DefaultStartPolicy returns the standard progress policy.
func DefaultStartPolicy() StartPolicy {
	return StartPolicy{
		Interval:      5 * time.Second,
		LatencyFactor: 50,
		MinTimeout:    20 * time.Second,
		Ceiling:       800 * time.Second,
		CeilingJitter: 0.2,
		MaxStalls:     3,
	}
}

// Timeout returns the time budget for a page that loaded in latency. rnd
// returns a value in [0, 1).
func (p StartPolicy) Timeout(latency time.Duration, rnd func() float64) time.Duration {
	timeout := time.Duration(float64(latency) * p.LatencyFactor)
	if timeout < p.MinTimeout {
		timeout = p.MinTimeout
	}
	if p.Ceiling > 0 && timeout > p.Ceiling {
		timeout = time.Duration(float64(p.Ceiling) * (1 + rnd()*p.CeilingJitter))
	}
	return timeout
}

// StartResult describes how following the progress element ended.
type StartResult struct {
	Started  bool
	Finished bool
	Progress float64
	Elapsed  time.Duration
	Samples  int
}

// StartWatcher follows a download through its progress element.
type StartWatcher struct {
	Policy StartPolicy
	Sleep  Sleeper
	Rand   func() float64
}

// NewStartWatcher creates a watcher with the given policy
func NewStartWatcher(policy StartPolicy) *StartWatcher {
	return &StartWatcher{Policy: policy}
}

// Wait samples probe until the element reappears after the download
// started (finished), progress stops moving for MaxStalls+2 consecutive
// samples (ErrDownloadStalled), or the time budget runs out (ErrDownloadTimeout).
func (w *StartWatcher) Wait(ctx context.Context, probe ProgressProbe, latency time.Duration) (StartResult, error) {
	log := logging.For("Progress")

	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	rnd := w.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	interval := w.Policy.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	timeout := w.Policy.Timeout(latency, rnd)
	var result StartResult
	stalls := 0

	for result.Elapsed <= timeout {
		if err := sleep(ctx, interval); err != nil {
			return result, err
		}
		result.Elapsed += interval

		visible, progress, err := probe(ctx)
		if err != nil {
			return result, fmt.Errorf("progress probe failed: %w", err)
		}
		result.Samples++

		if visible {
			if result.Started {
				result.Finished = true
				log.Debugf("✓ Progress element back after %v", result.Elapsed)
				return result, nil
			}
			log.Debugf("Waiting for download to start (%v/%v)", result.Elapsed, timeout)
			continue
		}

		result.Started = true
		if progress > result.Progress {
			result.Progress = progress
			stalls = 0
			log.Debugf("Progress %.1f", progress)
			continue
		}

		if stalls > w.Policy.MaxStalls {
			log.Warnf("⚠️ Progress stuck at %.1f for %d samples", result.Progress, stalls+1)
			return result, ErrDownloadStalled
		}
		stalls++
	}

	return result, ErrDownloadTimeout
}
