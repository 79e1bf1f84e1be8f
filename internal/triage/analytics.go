package triage

import (
	"slices"
	"strings"
	"time"
)

// DayCount is the number of results created on one UTC date.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Analytics summarises results created since a point in time.
type Analytics struct {
	Since             time.Time       `json:"since"`
	Total             int             `json:"total"`
	ByUrgency         map[Urgency]int `json:"by_urgency"`
	BySource          map[Source]int  `json:"by_source"`
	ByStatus          map[Status]int  `json:"by_status"`
	PerDay            []DayCount      `json:"per_day"`
	OpenAlerts        int             `json:"open_alerts"`
	MeanReviewMinutes float64         `json:"mean_review_minutes"`
	Reviewed          int             `json:"reviewed"`
}

// computeAnalytics folds results and alerts into an Analytics value.
func computeAnalytics(since time.Time, results []*Result, alerts []*Alert) *Analytics {
	a := &Analytics{
		Since:     since,
		ByUrgency: map[Urgency]int{UrgencyLow: 0, UrgencyMedium: 0, UrgencyHigh: 0},
		BySource:  map[Source]int{SourceForm: 0, SourceChat: 0},
		ByStatus:  map[Status]int{StatusInProgress: 0, StatusComplete: 0, StatusReviewed: 0},
		PerDay:    []DayCount{},
	}

	days := make(map[string]int)
	var reviewTotal time.Duration

	for _, r := range results {
		if r.CreatedAt.Before(since) {
			continue
		}
		a.Total++
		if r.Urgency != "" {
			a.ByUrgency[r.Urgency]++
		}
		a.BySource[r.Source]++
		a.ByStatus[r.Status]++
		days[r.CreatedAt.UTC().Format(time.DateOnly)]++

		if r.Status == StatusReviewed && !r.ReviewedAt.IsZero() {
			a.Reviewed++
			reviewTotal += r.ReviewedAt.Sub(r.CreatedAt)
		}
	}

	for _, al := range alerts {
		if al.Open() {
			a.OpenAlerts++
		}
	}

	if a.Reviewed > 0 {
		a.MeanReviewMinutes = reviewTotal.Minutes() / float64(a.Reviewed)
	}

	for d, n := range days {
		a.PerDay = append(a.PerDay, DayCount{Date: d, Count: n})
	}
	slices.SortFunc(a.PerDay, func(x, y DayCount) int {
		return strings.Compare(x.Date, y.Date)
	})

	return a
}
