// Package pgstore provides a PostgreSQL implementation of triage.Store and
// profile.Store.
//
// Visibility is enforced by the database: schema.sql enables row-level
// security on every table, and each transaction first copies the
// access.Principal from the context into the app.user_id and app.user_role
// session settings the policies read.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mirudhula24/smart-triage/internal/access"
	"github.com/Mirudhula24/smart-triage/internal/profile"
	"github.com/Mirudhula24/smart-triage/internal/triage"
)

var tracer = otel.Tracer("github.com/Mirudhula24/smart-triage/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Postgres error codes the store translates.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInsufficientPriv    = "42501"
)

// Store persists triage data in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// withTx runs fn in a transaction scoped to the context principal.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	p, _ := access.FromContext(ctx)
	var uid string
	if p.UserID != uuid.Nil {
		uid = p.UserID.String()
	}
	if _, err := tx.Exec(ctx,
		`SELECT set_config('app.user_id', $1, true), set_config('app.user_role', $2, true)`,
		uid, string(p.Role),
	); err != nil {
		return fmt.Errorf("set principal: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const resultColumns = `id, patient_id, submitted_by, source, status, urgency, recommended_action,
	symptoms, description, severity, duration_days, notes, matched_keywords,
	reviewed_by, reviewed_at, created_at, updated_at, completed_at`

// Get retrieves a triage result with its transcript.
func (s *Store) Get(ctx context.Context, id string) (*triage.Result, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	var r *triage.Result
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		r, err = scanResult(tx.QueryRow(ctx, `SELECT `+resultColumns+` FROM triage_results WHERE id = $1`, id))
		if err != nil || r == nil {
			return err
		}
		return loadConversation(ctx, tx, r)
	})
	if err != nil {
		return nil, false, recordErr(span, err)
	}
	return r, r != nil, nil
}

// Put inserts or updates a result. Updates that the row policy filters out
// surface as triage.ErrNotFound; rejected inserts as triage.ErrForbidden.
func (s *Store) Put(ctx context.Context, r *triage.Result) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	symptoms, err := json.Marshal(r.Symptoms)
	if err != nil {
		return recordErr(span, fmt.Errorf("marshal symptoms: %w", err))
	}
	keywords, err := json.Marshal(r.MatchedKeywords)
	if err != nil {
		return recordErr(span, fmt.Errorf("marshal keywords: %w", err))
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE triage_results SET
			status             = $2,
			urgency            = $3,
			recommended_action = $4,
			symptoms           = $5,
			description        = $6,
			severity           = $7,
			duration_days      = $8,
			notes              = $9,
			matched_keywords   = $10,
			reviewed_by        = $11,
			reviewed_at        = $12,
			completed_at       = $13
			WHERE id = $1`,
			r.ID, string(r.Status), string(r.Urgency), r.RecommendedAction,
			symptoms, r.Description, r.Severity, r.DurationDays, r.Notes, keywords,
			r.ReviewedBy, nullTime(r.ReviewedAt), nullTime(r.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("update result: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx, `INSERT INTO triage_results (`+resultColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),$17)`,
			r.ID, r.PatientID, r.SubmittedBy, string(r.Source), string(r.Status), string(r.Urgency),
			r.RecommendedAction, symptoms, r.Description, r.Severity, r.DurationDays, r.Notes,
			keywords, r.ReviewedBy, nullTime(r.ReviewedAt), createdAt, nullTime(r.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		return nil
	})

	switch pgCode(err) {
	case "":
	case codeUniqueViolation:
		// the row exists but the update policy hid it
		err = fmt.Errorf("%w: %w", triage.ErrNotFound, err)
	case codeInsufficientPriv:
		err = fmt.Errorf("%w: %w", triage.ErrForbidden, err)
	case codeForeignKeyViolation:
		_ = recordErr(span, err)
		return triage.ErrUnknownPatient
	}
	return recordErr(span, err)
}

// List returns visible results newest first. Transcripts are not loaded.
func (s *Store) List(ctx context.Context, f triage.ResultFilter) ([]*triage.Result, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT ` + resultColumns + ` FROM triage_results
		WHERE ($1::uuid IS NULL OR patient_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC, id DESC`
	args := []any{nullUUID(f.PatientID), statusStrings(f.Statuses), nullTime(f.Since)}
	if f.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, f.Limit)
	}

	var out []*triage.Result
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query results: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanResult(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

// AppendTurn inserts one chat message. A taken seq reports
// triage.ErrConflict; an invisible or missing parent triage.ErrNotFound.
func (s *Store) AppendTurn(ctx context.Context, triageID string, seq int, turn *triage.Turn) error {
	ctx, span := startSpan(ctx, "pgstore.AppendTurn", "INSERT")
	defer span.End()

	keywords, err := json.Marshal(turn.Keywords)
	if err != nil {
		return recordErr(span, fmt.Errorf("marshal keywords seq %d: %w", seq, err))
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (triage_id, seq, role, content, keywords, urgency, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			triageID, seq, turn.Role, turn.Content, keywords, string(turn.Urgency), turn.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert message seq %d: %w", seq, err)
		}
		return nil
	})

	switch pgCode(err) {
	case "":
	case codeUniqueViolation:
		err = fmt.Errorf("%w: %w", triage.ErrConflict, err)
	case codeForeignKeyViolation, codeInsufficientPriv:
		err = fmt.Errorf("%w: %w", triage.ErrNotFound, err)
	}
	return recordErr(span, err)
}

// PutAlert inserts or updates an alert.
func (s *Store) PutAlert(ctx context.Context, a *triage.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.PutAlert", "UPSERT")
	defer span.End()

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO alerts (id, triage_id, patient_id, urgency, message, created_at, acknowledged_at, acknowledged_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				acknowledged_at = EXCLUDED.acknowledged_at,
				acknowledged_by = EXCLUDED.acknowledged_by`,
			a.ID, a.TriageID, a.PatientID, string(a.Urgency), a.Message, a.CreatedAt,
			nullTime(a.AcknowledgedAt), a.AcknowledgedBy,
		)
		if err != nil {
			return fmt.Errorf("upsert alert: %w", err)
		}
		return nil
	})
	if pgCode(err) == codeInsufficientPriv {
		err = fmt.Errorf("%w: %w", triage.ErrForbidden, err)
	}
	return recordErr(span, err)
}

const alertColumns = `id, triage_id, patient_id, urgency, message, created_at, acknowledged_at, acknowledged_by`

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*triage.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	var a *triage.Alert
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		a, err = scanAlert(tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, false, recordErr(span, err)
	}
	return a, a != nil, nil
}

// ListAlerts returns visible alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, f triage.AlertFilter) ([]*triage.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE (NOT $1 OR acknowledged_at IS NULL)
		  AND ($2::uuid IS NULL OR patient_id = $2)
		ORDER BY created_at DESC, id DESC`
	args := []any{f.OnlyOpen, nullUUID(f.PatientID)}
	if f.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, f.Limit)
	}

	var out []*triage.Alert
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query alerts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAlert(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

func loadConversation(ctx context.Context, tx pgx.Tx, r *triage.Result) error {
	rows, err := tx.Query(ctx,
		`SELECT seq, role, content, keywords, urgency, created_at
		 FROM chat_messages WHERE triage_id = $1 ORDER BY seq`,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var turns []triage.Turn
	for rows.Next() {
		var (
			seq      int
			t        triage.Turn
			keywords []byte
			urgency  string
		)
		if err := rows.Scan(&seq, &t.Role, &t.Content, &keywords, &urgency, &t.Timestamp); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(keywords, &t.Keywords); err != nil {
			return fmt.Errorf("unmarshal keywords seq %d: %w", seq, err)
		}
		t.Urgency = triage.Urgency(urgency)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}

	if len(turns) > 0 {
		r.Conversation = &triage.Conversation{Turns: turns}
	}
	return nil
}

// scanResult scans a single row into a triage.Result (without conversation).
// Returns (nil, nil) when no row is found.
func scanResult(row pgx.Row) (*triage.Result, error) {
	var (
		r                      triage.Result
		source, status, urg    string
		symptoms, keywords     []byte
		reviewedAt, completeAt *time.Time
	)

	err := row.Scan(
		&r.ID, &r.PatientID, &r.SubmittedBy, &source, &status, &urg, &r.RecommendedAction,
		&symptoms, &r.Description, &r.Severity, &r.DurationDays, &r.Notes, &keywords,
		&r.ReviewedBy, &reviewedAt, &r.CreatedAt, &r.UpdatedAt, &completeAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}

	r.Source = triage.Source(source)
	r.Status = triage.Status(status)
	r.Urgency = triage.Urgency(urg)
	if reviewedAt != nil {
		r.ReviewedAt = *reviewedAt
	}
	if completeAt != nil {
		r.CompletedAt = *completeAt
	}
	if err := json.Unmarshal(symptoms, &r.Symptoms); err != nil {
		return nil, fmt.Errorf("unmarshal symptoms: %w", err)
	}
	if err := json.Unmarshal(keywords, &r.MatchedKeywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	return &r, nil
}

func scanAlert(row pgx.Row) (*triage.Alert, error) {
	var (
		a       triage.Alert
		urgency string
		ackAt   *time.Time
	)
	err := row.Scan(&a.ID, &a.TriageID, &a.PatientID, &urgency, &a.Message, &a.CreatedAt, &ackAt, &a.AcknowledgedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Urgency = triage.Urgency(urgency)
	if ackAt != nil {
		a.AcknowledgedAt = *ackAt
	}
	return &a, nil
}

const profileColumns = `id, email, full_name, phone, date_of_birth, role, created_at, updated_at`

// GetProfile retrieves a profile visible to the context principal.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (*profile.Profile, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetProfile", "SELECT")
	defer span.End()

	var p *profile.Profile
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, false, recordErr(span, err)
	}
	return p, p != nil, nil
}

// CreateProfile inserts p unless the row exists and returns the stored row.
// The insert trigger forces the patient role for non-admin callers.
func (s *Store) CreateProfile(ctx context.Context, p *profile.Profile) (*profile.Profile, error) {
	ctx, span := startSpan(ctx, "pgstore.CreateProfile", "INSERT")
	defer span.End()

	var out *profile.Profile
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO profiles (id, email, full_name, phone, date_of_birth, role)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Email, p.FullName, p.Phone, p.DateOfBirth, string(p.Role),
		)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		out, err = scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, p.ID))
		if err == nil && out == nil {
			err = profile.ErrNotFound
		}
		return err
	})
	if pgCode(err) == codeInsufficientPriv {
		err = fmt.Errorf("%w: %w", profile.ErrForbidden, err)
	}
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

// PutProfile updates an existing profile. Role changes by non-admins are
// rejected by the role guard trigger.
func (s *Store) PutProfile(ctx context.Context, p *profile.Profile) error {
	ctx, span := startSpan(ctx, "pgstore.PutProfile", "UPDATE")
	defer span.End()

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE profiles SET full_name = $2, phone = $3, date_of_birth = $4, role = $5 WHERE id = $1`,
			p.ID, p.FullName, p.Phone, p.DateOfBirth, string(p.Role),
		)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return profile.ErrNotFound
		}
		return nil
	})
	if pgCode(err) == codeInsufficientPriv {
		err = fmt.Errorf("%w: %w", profile.ErrForbidden, err)
	}
	return recordErr(span, err)
}

// ListProfiles returns visible profiles, oldest first.
func (s *Store) ListProfiles(ctx context.Context) ([]*profile.Profile, error) {
	ctx, span := startSpan(ctx, "pgstore.ListProfiles", "SELECT")
	defer span.End()

	var out []*profile.Profile
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at, id`)
		if err != nil {
			return fmt.Errorf("query profiles: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, recordErr(span, err)
	}
	return out, nil
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var (
		p    profile.Profile
		role string
	)
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Phone, &p.DateOfBirth, &role, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.Role = access.Role(role)
	return &p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func statusStrings(ss []triage.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
