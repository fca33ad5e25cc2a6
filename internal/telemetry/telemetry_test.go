package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	mu      sync.Mutex
	facts   []HostFacts
	samples []Sample
}

func (f *fakeReporter) ReportHostFacts(ctx context.Context, facts HostFacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, facts)
	return nil
}

func (f *fakeReporter) ReportSample(ctx context.Context, sample Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeReporter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.facts), len(f.samples)
}

func TestNewDefaultsToDefaultPeriodWhenZero(t *testing.T) {
	s := New(&fakeReporter{}, 0, "v1", nil)
	assert.Equal(t, DefaultPeriod, s.period)
}

func TestRunReportsHostFactsOnceAtStartup(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(reporter, 10*time.Millisecond, "v1.2.3", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	facts, _ := reporter.counts()
	require.Equal(t, 1, facts)
	assert.Equal(t, "v1.2.3", reporter.facts[0].AgentVersion)
	assert.NotEmpty(t, reporter.facts[0].GoVersion)
}

func TestRunEmitsPeriodicSamplesUntilCanceled(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(reporter, 5*time.Millisecond, "v1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	_, samples := reporter.counts()
	assert.Greater(t, samples, 0)
}
