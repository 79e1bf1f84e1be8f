// Package triage provides the business boundary for symptom triage.
// It defines the Service (intake, chat lifecycle, priority queue, alerts,
// analytics), the rule-based form assessment, the Store interface
// (persistence) and the domain models.
package triage
