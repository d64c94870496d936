package hyperhttp

import (
	"math"
	"testing"
	"time"

	internalbackoff "github.com/lmousom/hyperhttp/internal/backoff"
)

const (
	attempt0 = "attempt 0"
	attempt1 = "attempt 1"
	attempt2 = "attempt 2"
)

func TestExponentialBackoffStrategy(t *testing.T) {
	strategy := internalbackoff.ExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 0.0)

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{attempt0, 0, 100 * time.Millisecond},
		{attempt1, 1, 200 * time.Millisecond},
		{attempt2, 2, 400 * time.Millisecond},
		{"attempt 10 (hits max)", 10, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strategy.NextDelay(tt.attempt, 0)
			if result != tt.expected {
				t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestDecorrelatedJitterStrategyBounds(t *testing.T) {
	strategy := internalbackoff.DecorrelatedJitterBackoff(100*time.Millisecond, 5*time.Second)

	tests := []struct {
		name        string
		attempt     int
		priorDelay  time.Duration
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{attempt0, 0, 0, 100 * time.Millisecond, 100 * time.Millisecond},
		{attempt1, 1, 100 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond},
		{attempt2, 2, 300 * time.Millisecond, 100 * time.Millisecond, 900 * time.Millisecond},
		{"large prior delay caps at max", 3, 3 * time.Second, 100 * time.Millisecond, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				result := strategy.NextDelay(tt.attempt, tt.priorDelay)
				if result < tt.minExpected || result > tt.maxExpected {
					t.Errorf("NextDelay(%d, %v) = %v, want between %v and %v",
						tt.attempt, tt.priorDelay, result, tt.minExpected, tt.maxExpected)
				}
			}
		})
	}
}

func TestDefaultRetryPolicyCalculateBackoffExponentialJitter(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{attempt0, 0, 100 * time.Millisecond},
		{attempt1, 1, 200 * time.Millisecond},
		{attempt2, 2, 400 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := policy.strategy.NextDelay(tt.attempt, 0)
			if result != tt.expected {
				t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestDefaultRetryPolicyCalculateBackoffDecorrelatedJitter(t *testing.T) {
	policy := NewDefaultRetryPolicyWithStrategy(3, 100*time.Millisecond, 5*time.Second, 2.0, 0.0, DecorrelatedJitter)

	tests := []struct {
		name        string
		attempt     int
		priorDelay  time.Duration
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{attempt0, 0, 0, 100 * time.Millisecond, 100 * time.Millisecond},
		{attempt1, 1, 100 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond},
		{attempt2, 2, 300 * time.Millisecond, 100 * time.Millisecond, 900 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				result := policy.strategy.NextDelay(tt.attempt, tt.priorDelay)
				if result < tt.minExpected || result > tt.maxExpected {
					t.Errorf("NextDelay(%d, %v) = %v, want between %v and %v",
						tt.attempt, tt.priorDelay, result, tt.minExpected, tt.maxExpected)
				}
			}
		})
	}
}

// FuzzTestBackoffStrategies tests that both backoff strategies produce valid delays.
func FuzzTestBackoffStrategies(f *testing.F) {
	f.Add(0, 100, 5000, 2.0, 0.1)
	f.Add(1, 50, 10000, 1.5, 0.2)
	f.Add(5, 200, 30000, 3.0, 0.0)

	f.Fuzz(func(t *testing.T, attempt int, initialMs, maxMs int, multiplier, jitter float64) {
		if !isValidFuzzInput(attempt, initialMs, maxMs, multiplier, jitter) {
			t.Skip()
		}
		initialBackoff := time.Duration(initialMs) * time.Millisecond
		maxBackoff := time.Duration(maxMs) * time.Millisecond
		if maxBackoff < initialBackoff {
			t.Skip()
		}
		checkStrategy(t, internalbackoff.ExponentialBackoff(initialBackoff, maxBackoff, multiplier, jitter), attempt, initialBackoff, maxBackoff, jitter, false)
		checkStrategy(t, internalbackoff.DecorrelatedJitterBackoff(initialBackoff, maxBackoff), attempt, initialBackoff, maxBackoff, jitter, true)
	})
}

func isValidFuzzInput(attempt, initialMs, maxMs int, multiplier, jitter float64) bool {
	return attempt >= 0 && attempt <= 20 &&
		initialMs > 0 && maxMs > 0 &&
		multiplier > 0 &&
		jitter >= 0 && jitter <= 1
}

func checkStrategy(t *testing.T, strategy internalbackoff.Strategy, attempt int, initialBackoff, maxBackoff time.Duration, jitter float64, decorrelated bool) {
	t.Helper()
	delay := strategy.NextDelay(attempt, 0)
	if delay < 0 {
		t.Errorf("strategy produced negative delay: %v", delay)
	}
	maxAllowed := maxBackoff
	if !decorrelated && jitter > 0 {
		maxAllowed = time.Duration(float64(maxBackoff) * (1 + jitter))
	}
	if delay > maxAllowed {
		t.Errorf("strategy produced delay %v exceeding max allowed %v", delay, maxAllowed)
	}
	if decorrelated && attempt == 0 && delay != initialBackoff {
		t.Errorf("decorrelated jitter at attempt 0 should return initialBackoff %v, got %v", initialBackoff, delay)
	}
}

// BenchmarkBackoffStrategies compares performance of the two backoff strategies.
func BenchmarkBackoffStrategies(b *testing.B) {
	strategies := []struct {
		name     string
		strategy internalbackoff.Strategy
	}{
		{"ExponentialJitter", internalbackoff.ExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 0.1)},
		{"DecorrelatedJitter", internalbackoff.DecorrelatedJitterBackoff(100*time.Millisecond, 5*time.Second)},
	}

	for _, s := range strategies {
		b.Run(s.name, func(b *testing.B) {
			b.ResetTimer()
			prior := time.Duration(0)
			for i := 0; i < b.N; i++ {
				prior = s.strategy.NextDelay(i%10, prior)
			}
		})
	}
}

// TestBackoffVarianceProfile tests that decorrelated jitter has different variance than exponential.
func TestBackoffVarianceProfile(t *testing.T) {
	const numSamples = 1000
	const attempt = 3
	results := map[string][]time.Duration{
		"exponential":  collectExponentialSamples(numSamples, attempt),
		"decorrelated": collectDecorrelatedSamples(numSamples, attempt),
	}
	means, variances := computeStats(results)
	t.Logf("Exponential jitter - Mean: %.2f, Variance: %.2f", means["exponential"], variances["exponential"])
	t.Logf("Decorrelated jitter - Mean: %.2f, Variance: %.2f", means["decorrelated"], variances["decorrelated"])
	if math.Abs(variances["exponential"]-variances["decorrelated"]) < variances["exponential"]*0.1 {
		t.Log("Warning: Variance profiles are very similar - this may be expected depending on parameters")
	}
	validateBackoffSamples(t, results)
}

func collectExponentialSamples(numSamples, attempt int) []time.Duration {
	strategy := internalbackoff.ExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 0.1)
	samples := make([]time.Duration, numSamples)
	for i := range samples {
		samples[i] = strategy.NextDelay(attempt, 0)
	}
	return samples
}

func collectDecorrelatedSamples(numSamples, attempt int) []time.Duration {
	strategy := internalbackoff.DecorrelatedJitterBackoff(100*time.Millisecond, 5*time.Second)
	samples := make([]time.Duration, numSamples)
	for i := range samples {
		samples[i] = strategy.NextDelay(attempt, 300*time.Millisecond)
	}
	return samples
}

func computeStats(results map[string][]time.Duration) (map[string]float64, map[string]float64) {
	means := make(map[string]float64)
	variances := make(map[string]float64)
	for name, samples := range results {
		mean, variance := calcMeanVariance(samples)
		means[name] = mean
		variances[name] = variance
	}
	return means, variances
}

func calcMeanVariance(samples []time.Duration) (float64, float64) {
	var sum float64
	for _, sample := range samples {
		sum += float64(sample)
	}
	mean := sum / float64(len(samples))
	var varianceSum float64
	for _, sample := range samples {
		diff := float64(sample) - mean
		varianceSum += diff * diff
	}
	variance := varianceSum / float64(len(samples))
	return mean, variance
}

func validateBackoffSamples(t *testing.T, results map[string][]time.Duration) {
	for name, samples := range results {
		for _, sample := range samples {
			if sample < 0 || sample > 10*time.Second {
				t.Errorf("Strategy %s produced unreasonable delay: %v", name, sample)
			}
		}
	}
}
