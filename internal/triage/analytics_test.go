package triage

import (
	"math"
	"testing"
	"time"
)

func TestComputeAnalytics(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	d1 := since.Add(10 * time.Hour)
	d2 := since.Add(34 * time.Hour)

	results := []*Result{
		{Source: SourceForm, Status: StatusReviewed, Urgency: UrgencyHigh, CreatedAt: d1, ReviewedAt: d1.Add(30 * time.Minute)},
		{Source: SourceForm, Status: StatusReviewed, Urgency: UrgencyLow, CreatedAt: d1, ReviewedAt: d1.Add(90 * time.Minute)},
		{Source: SourceChat, Status: StatusComplete, Urgency: UrgencyMedium, CreatedAt: d2},
		{Source: SourceChat, Status: StatusInProgress, CreatedAt: d2},
		{Source: SourceForm, Status: StatusComplete, Urgency: UrgencyLow, CreatedAt: since.Add(-time.Hour)},
	}
	alerts := []*Alert{
		{ID: "a1"},
		{ID: "a2", AcknowledgedAt: d1},
	}

	a := computeAnalytics(since, results, alerts)

	if a.Total != 4 {
		t.Errorf("total = %d, want 4", a.Total)
	}
	if a.ByUrgency[UrgencyHigh] != 1 || a.ByUrgency[UrgencyMedium] != 1 || a.ByUrgency[UrgencyLow] != 1 {
		t.Errorf("by urgency = %v", a.ByUrgency)
	}
	if a.BySource[SourceForm] != 2 || a.BySource[SourceChat] != 2 {
		t.Errorf("by source = %v", a.BySource)
	}
	if a.ByStatus[StatusInProgress] != 1 || a.ByStatus[StatusReviewed] != 2 {
		t.Errorf("by status = %v", a.ByStatus)
	}
	if a.OpenAlerts != 1 {
		t.Errorf("open alerts = %d, want 1", a.OpenAlerts)
	}
	if a.Reviewed != 2 || math.Abs(a.MeanReviewMinutes-60) > 1e-9 {
		t.Errorf("reviewed=%d mean=%v, want 2 and 60", a.Reviewed, a.MeanReviewMinutes)
	}

	want := []DayCount{{Date: "2026-04-01", Count: 2}, {Date: "2026-04-02", Count: 2}}
	if len(a.PerDay) != len(want) {
		t.Fatalf("per day = %v, want %v", a.PerDay, want)
	}
	for i := range want {
		if a.PerDay[i] != want[i] {
			t.Errorf("per day[%d] = %v, want %v", i, a.PerDay[i], want[i])
		}
	}
}

func TestComputeAnalytics_EmptyHasZeroBuckets(t *testing.T) {
	t.Parallel()

	a := computeAnalytics(time.Time{}, nil, nil)
	if a.Total != 0 || a.PerDay == nil {
		t.Errorf("analytics = %+v", a)
	}
	for _, u := range []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh} {
		if v, ok := a.ByUrgency[u]; !ok || v != 0 {
			t.Errorf("by urgency[%s] = %d, %v", u, v, ok)
		}
	}
}
