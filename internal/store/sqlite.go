package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/thebeacon-app/beacon-alerts/internal/models"
	"github.com/thebeacon-app/beacon-alerts/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements AlertStore backed by a SQLite database. Upsert
// atomicity comes from the UNIQUE constraint on dedup_key plus
// ON CONFLICT, so overlapping cycles serialize per key inside the
// database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) UpsertByKey(ctx context.Context, a *models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sources, err := json.Marshal(a.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	// Counters (notifications_sent, views), created_at and the verified
	// flag belong to the stored row and survive re-scrapes.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (id, dedup_key, type, severity, title, description, sources,
		                     source_url, issued_at, expires_at, is_verified, is_active,
		                     notifications_sent, priority, views, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?)
		 ON CONFLICT(dedup_key) DO UPDATE SET
		     type = excluded.type,
		     severity = excluded.severity,
		     title = excluded.title,
		     description = excluded.description,
		     sources = excluded.sources,
		     source_url = excluded.source_url,
		     issued_at = excluded.issued_at,
		     expires_at = excluded.expires_at,
		     priority = excluded.priority,
		     updated_at = excluded.updated_at`,
		a.ID, a.DedupKey, a.Type, a.Severity, a.Title, a.Description, string(sources),
		a.SourceURL, formatTime(a.IssuedAt), formatTimePtr(a.ExpiresAt),
		boolToInt(a.IsVerified), boolToInt(a.IsActive),
		a.Priority, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}

	// A pre-existing row keeps its id; pick up the canonical one.
	var id string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM alerts WHERE dedup_key = ?`, a.DedupKey,
	).Scan(&id); err != nil {
		return fmt.Errorf("resolve alert id: %w", err)
	}
	a.ID = id

	// Areas accumulate across updates; they never shrink on this path.
	for _, area := range a.AffectedAreas {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO alert_areas (alert_id, city, state) VALUES (?, ?, ?)`,
			id, area.City, area.State,
		); err != nil {
			return fmt.Errorf("insert area: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, selectAlert+` WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadAreas(ctx, []*models.Alert{a}); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLite) GetByKeys(ctx context.Context, keys []string) (map[string]*models.Alert, error) {
	result := make(map[string]*models.Alert, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(keys)-1) + "?"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		selectAlert+` WHERE dedup_key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query by keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if err := s.loadAreas(ctx, alerts); err != nil {
		return nil, err
	}
	for _, a := range alerts {
		result[a.DedupKey] = a
	}
	return result, nil
}

func (s *SQLite) FindActive(ctx context.Context, f Filter) ([]models.Alert, int64, error) {
	where, args := buildWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	query := selectAlert + ` ` + where +
		` ORDER BY priority DESC, issued_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	if err := s.loadAreas(ctx, alerts); err != nil {
		return nil, 0, err
	}

	result := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		result = append(result, *a)
	}
	return result, total, nil
}

func buildWhere(f Filter) (string, []any) {
	conds := []string{"1=1"}
	var args []any

	if !f.IncludeInactive {
		conds = append(conds, "is_active = 1")
		conds = append(conds, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, formatTime(time.Now().UTC()))
	}
	if f.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, string(*f.Type))
	}
	if f.Severity != nil {
		conds = append(conds, "severity = ?")
		args = append(args, string(*f.Severity))
	}
	if f.Since != nil {
		conds = append(conds, "issued_at >= ?")
		args = append(args, formatTime(f.Since.UTC()))
	}
	if f.City != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM alert_areas aa
			WHERE aa.alert_id = alerts.id AND aa.city = ? COLLATE NOCASE)`)
		args = append(args, strings.TrimSpace(f.City))
	}
	if f.State != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM alert_areas aa
			WHERE aa.alert_id = alerts.id AND aa.state = ? COLLATE NOCASE)`)
		args = append(args, strings.TrimSpace(f.State))
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLite) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET is_active = 0, updated_at = ?
		 WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at <= ?`,
		formatTime(now.UTC()), formatTime(now.UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired: %w", err)
	}
	return res.RowsAffected()
}

// Update replaces an alert wholesale, including its area set. This is the
// admin-edit path; unlike UpsertByKey it may shrink areas.
func (s *SQLite) Update(ctx context.Context, a *models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sources, err := json.Marshal(a.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET type = ?, severity = ?, title = ?, description = ?,
		     sources = ?, source_url = ?, issued_at = ?, expires_at = ?,
		     is_verified = ?, is_active = ?, priority = ?, updated_at = ?
		 WHERE id = ?`,
		a.Type, a.Severity, a.Title, a.Description,
		string(sources), a.SourceURL, formatTime(a.IssuedAt), formatTimePtr(a.ExpiresAt),
		boolToInt(a.IsVerified), boolToInt(a.IsActive), a.Priority, formatTime(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_areas WHERE alert_id = ?`, a.ID); err != nil {
		return fmt.Errorf("clear areas: %w", err)
	}
	for _, area := range a.AffectedAreas {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO alert_areas (alert_id, city, state) VALUES (?, ?, ?)`,
			a.ID, area.City, area.State,
		); err != nil {
			return fmt.Errorf("insert area: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) SetActive(ctx context.Context, id string, active bool) error {
	return s.setFlag(ctx, `UPDATE alerts SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(time.Now().UTC()), id)
}

func (s *SQLite) SetVerified(ctx context.Context, id string) error {
	return s.setFlag(ctx, `UPDATE alerts SET is_verified = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
}

func (s *SQLite) setFlag(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) IncrementNotificationsSent(ctx context.Context, id string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	return s.setFlag(ctx,
		`UPDATE alerts SET notifications_sent = notifications_sent + ? WHERE id = ?`,
		delta, id)
}

func (s *SQLite) IncrementViews(ctx context.Context, id string) error {
	return s.setFlag(ctx, `UPDATE alerts SET views = views + 1 WHERE id = ?`, id)
}

func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	now := formatTime(time.Now().UTC())
	active := `is_active = 1 AND (expires_at IS NULL OR expires_at > ?)`

	stats := &Stats{
		BySeverity: make(map[models.Severity]int64),
		ByType:     make(map[models.AlertType]int64),
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE `+active, now,
	).Scan(&stats.TotalActive); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM alerts WHERE `+active+` GROUP BY severity`, now)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var sev models.Severity
		var n int64
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan severity row: %w", err)
		}
		stats.BySeverity[sev] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate severity rows: %w", err)
	}

	typeRows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM alerts WHERE `+active+` GROUP BY type`, now)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer func() { _ = typeRows.Close() }()
	for typeRows.Next() {
		var t models.AlertType
		var n int64
		if err := typeRows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan type row: %w", err)
		}
		stats.ByType[t] = n
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type rows: %w", err)
	}

	return stats, nil
}

func (s *SQLite) AvailableCities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT aa.city FROM alert_areas aa
		 JOIN alerts a ON a.id = aa.alert_id
		 WHERE aa.city != '' AND a.is_active = 1 AND (a.expires_at IS NULL OR a.expires_at > ?)
		 ORDER BY aa.city`,
		formatTime(time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cities []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		cities = append(cities, city)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cities: %w", err)
	}
	return cities, nil
}

func (s *SQLite) loadAreas(ctx context.Context, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	byID := make(map[string]*models.Alert, len(alerts))
	placeholders := make([]string, 0, len(alerts))
	args := make([]any, 0, len(alerts))
	for _, a := range alerts {
		byID[a.ID] = a
		placeholders = append(placeholders, "?")
		args = append(args, a.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_id, city, state FROM alert_areas
		 WHERE alert_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY rowid`,
		args...)
	if err != nil {
		return fmt.Errorf("query areas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var area models.Area
		if err := rows.Scan(&id, &area.City, &area.State); err != nil {
			return fmt.Errorf("scan area: %w", err)
		}
		if a, ok := byID[id]; ok {
			a.AffectedAreas = append(a.AffectedAreas, area)
		}
	}
	return rows.Err()
}

const selectAlert = `SELECT id, dedup_key, type, severity, title, description, sources,
	source_url, issued_at, expires_at, is_verified, is_active,
	notifications_sent, priority, views, created_at, updated_at FROM alerts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var sources string
	var issuedAt, createdAt, updatedAt string
	var expiresAt sql.NullString
	var verified, active int

	err := row.Scan(&a.ID, &a.DedupKey, &a.Type, &a.Severity, &a.Title, &a.Description,
		&sources, &a.SourceURL, &issuedAt, &expiresAt, &verified, &active,
		&a.NotificationsSent, &a.Priority, &a.Views, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	if err := json.Unmarshal([]byte(sources), &a.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	a.IsVerified = verified == 1
	a.IsActive = active == 1
	a.IssuedAt, _ = time.Parse(timeLayout, issuedAt)
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	a.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if expiresAt.Valid {
		if t, err := time.Parse(timeLayout, expiresAt.String); err == nil {
			a.ExpiresAt = &t
		}
	}
	return &a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
