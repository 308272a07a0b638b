package downloader

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"time"

	"boardcrawl/logging"
	"boardcrawl/parser"
)

// ErrDownloadTimeout is returned when a browser download neither finished
// nor failed within its time budget. Partial files are left in place.
var ErrDownloadTimeout = errors.New("download timed out")

// partialSuffixes mark files a browser is still writing
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// CompletionPolicy controls how long to wait for a browser download.
type CompletionPolicy struct {
	Interval      time.Duration // between size samples
	LatencyFactor float64       // timeout = page load latency * factor
	MinTimeout    time.Duration
	MaxTimeout    time.Duration
	Escalation    float64 // timeout multiplier per retry attempt
}

// DefaultCompletionPolicy returns the standard polling policy.
func DefaultCompletionPolicy() CompletionPolicy {
	return CompletionPolicy{
		Interval:      time.Second,
		LatencyFactor: 30,
		MinTimeout:    10 * time.Second,
		MaxTimeout:    15 * time.Minute,
		Escalation:    2,
	}
}

// Timeout returns the time budget for the given attempt (1-based). Slow
// pages get proportionally longer, every retry multiplies the budget by
// Escalation, and MaxTimeout caps it.
func (p CompletionPolicy) Timeout(latency time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := time.Duration(float64(latency) * p.LatencyFactor)
	if base < p.MinTimeout {
		base = p.MinTimeout
	}

	timeout := time.Duration(float64(base) * math.Pow(p.Escalation, float64(attempt-1)))
	if p.MaxTimeout > 0 && (timeout > p.MaxTimeout || timeout < 0) {
		timeout = p.MaxTimeout
	}
	return timeout
}

// CompletionResult describes how a download wait ended.
type CompletionResult struct {
	Started   bool // a nonzero size was observed
	Completed bool
	Bytes     int64
	Elapsed   time.Duration
	Samples   int
	Timeout   time.Duration
	Leftovers []string // partial files still present at the end
}

// CompletionWatcher polls the size of a download directory.
type CompletionWatcher struct {
	Dir    string
	Policy CompletionPolicy
	// Size reports the directory size; DirSize of Dir when nil
	Size func() (int64, error)
	// Sleep waits between samples; a context-aware timer when nil
	Sleep Sleeper
}

// NewCompletionWatcher creates a watcher for dir
func NewCompletionWatcher(dir string, policy CompletionPolicy) *CompletionWatcher {
	return &CompletionWatcher{Dir: dir, Policy: policy}
}

// Wait polls until the directory holds a nonzero size that did not change
// between two consecutive samples. A zero size means the download has not
// started and never counts as stable. Elapsed time is the sum of the
// intervals slept. On timeout the result is returned together with
// ErrDownloadTimeout.
func (w *CompletionWatcher) Wait(ctx context.Context, latency time.Duration, attempt int) (CompletionResult, error) {
	log := logging.For("Completion").WithField("dir", w.Dir)

	size := w.Size
	if size == nil {
		size = func() (int64, error) { return parser.DirSize(w.Dir) }
	}
	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	interval := w.Policy.Interval
	if interval <= 0 {
		interval = time.Second
	}

	result := CompletionResult{Timeout: w.Policy.Timeout(latency, attempt)}
	var last int64

	for result.Elapsed < result.Timeout {
		current, err := size()
		if err != nil {
			return result, err
		}
		result.Samples++
		result.Bytes = current

		if current == 0 {
			log.Debugf("Waiting for download to start (%v/%v)", result.Elapsed, result.Timeout)
		} else {
			result.Started = true
			log.Debugf("%d -> %d bytes", last, current)
			if last == current {
				result.Completed = true
				result.Leftovers = w.leftovers()
				if len(result.Leftovers) > 0 {
					log.Warnf("⚠️ Size is stable but partial files remain: %v", result.Leftovers)
				}
				return result, nil
			}
		}
		last = current

		if err := sleep(ctx, interval); err != nil {
			return result, err
		}
		result.Elapsed += interval
	}

	result.Leftovers = w.leftovers()
	log.Warnf("⚠️ Download not finished after %v (%d bytes)", result.Timeout, result.Bytes)
	return result, ErrDownloadTimeout
}

func (w *CompletionWatcher) leftovers() []string {
	files, err := parser.LocalFileList(w.Dir)
	if err != nil {
		return nil
	}

	var partial []string
	for _, f := range files {
		if isPartialFile(f) {
			partial = append(partial, f)
		}
	}
	return partial
}

func isPartialFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, suffix := range partialSuffixes {
		if ext == suffix {
			return true
		}
	}
	return false
}
