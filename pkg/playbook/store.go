package playbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/logging"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Store owns all Section/Bullet/Revision state. Callers observe
// snapshots and submit delta batches; they never mutate records
// directly. A delta batch is either committed in full (producing a
// Revision) or rejected with nothing persisted.
type Store struct {
	db   *sql.DB
	path string

	initialized sync.Once
}

// ApplyOptions carries audit attribution for a delta batch.
type ApplyOptions struct {
	AppliedBy   string
	Description string
	Metadata    map[string]any
}

// NewStore opens (or creates) a playbook database at the given path.
// ":memory:" creates an in-memory database.
func NewStore(path string) (*Store, error) {
	// DSN parameters apply to every pooled connection; WAL plus a busy
	// timeout lets concurrent batch commits serialize at the database
	// instead of failing spuriously.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to open playbook database"),
			errors.Fields{"path": path},
		)
	}

	// An in-memory database exists per connection; keep the pool at one
	// so every caller sees the same playbook.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureInitialized() error {
	var initErr error
	s.initialized.Do(func() {
		query := `
        CREATE TABLE IF NOT EXISTS playbook_section (
            id           TEXT PRIMARY KEY,
            name         TEXT NOT NULL UNIQUE,
            display_name TEXT NOT NULL,
            description  TEXT,
            ordering     INTEGER NOT NULL DEFAULT 0,
            metadata     TEXT NOT NULL DEFAULT '{}',
            created_at   INTEGER NOT NULL,
            updated_at   INTEGER NOT NULL
        );

        CREATE TABLE IF NOT EXISTS playbook_bullet (
            id            TEXT PRIMARY KEY,
            bullet_id     TEXT NOT NULL UNIQUE,
            section_id    TEXT NOT NULL REFERENCES playbook_section(id) ON DELETE CASCADE,
            content       TEXT NOT NULL,
            helpful_count INTEGER NOT NULL DEFAULT 0 CHECK (helpful_count >= 0),
            harmful_count INTEGER NOT NULL DEFAULT 0 CHECK (harmful_count >= 0),
            metadata      TEXT NOT NULL DEFAULT '{}',
            created_at    INTEGER NOT NULL,
            updated_at    INTEGER NOT NULL
        );

        CREATE INDEX IF NOT EXISTS idx_playbook_bullet_section_created_at
        ON playbook_bullet(section_id, created_at);

        CREATE TABLE IF NOT EXISTS playbook_revision (
            id          TEXT PRIMARY KEY,
            operations  TEXT NOT NULL,
            inverse_ops TEXT NOT NULL,
            applied_by  TEXT,
            description TEXT,
            metadata    TEXT NOT NULL DEFAULT '{}',
            created_at  INTEGER NOT NULL
        );

        CREATE INDEX IF NOT EXISTS idx_playbook_revision_created_at
        ON playbook_revision(created_at);
        `

		if _, err := s.db.Exec(query); err != nil {
			initErr = errors.Wrap(err, errors.Unknown, "failed to initialize playbook schema")
			return
		}
	})
	return initErr
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to close playbook database")
	}
	return nil
}

// Snapshot loads every section with its bullets, sections ordered by
// ordering then name, bullets by creation time. The queries are eager
// and explicit; there is no lazy relationship traversal.
func (s *Store) Snapshot(ctx context.Context) ([]Section, error) {
	return s.snapshot(ctx, nil)
}

// SectionSnapshot is Snapshot restricted to the named sections.
func (s *Store) SectionSnapshot(ctx context.Context, names []string) ([]Section, error) {
	return s.snapshot(ctx, names)
}

func (s *Store) snapshot(ctx context.Context, names []string) ([]Section, error) {
	sectionQuery := `
    SELECT name, display_name, description, ordering, metadata, created_at, updated_at
    FROM playbook_section`
	bulletQuery := `
    SELECT b.bullet_id, b.content, b.helpful_count, b.harmful_count, b.metadata,
           b.created_at, b.updated_at, s.name, s.display_name
    FROM playbook_bullet b
    JOIN playbook_section s ON s.id = b.section_id`

	var sectionArgs, bulletArgs []any
	if len(names) > 0 {
		placeholders := strings.Repeat("?,", len(names))
		placeholders = placeholders[:len(placeholders)-1]
		sectionQuery += " WHERE name IN (" + placeholders + ")"
		bulletQuery += " WHERE s.name IN (" + placeholders + ")"
		for _, name := range names {
			sectionArgs = append(sectionArgs, name)
			bulletArgs = append(bulletArgs, name)
		}
	}
	sectionQuery += " ORDER BY ordering ASC, name ASC"
	bulletQuery += " ORDER BY b.created_at ASC, b.bullet_id ASC"

	rows, err := s.db.QueryContext(ctx, sectionQuery, sectionArgs...)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to load sections")
	}
	defer rows.Close()

	var sections []Section
	index := make(map[string]int)
	for rows.Next() {
		var sec Section
		var description sql.NullString
		var metadata string
		var createdAt, updatedAt int64
		if err := rows.Scan(&sec.Name, &sec.DisplayName, &description, &sec.Ordering, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan section")
		}
		sec.Description = description.String
		sec.Metadata = unmarshalMeta(metadata)
		sec.CreatedAt = time.Unix(0, createdAt)
		sec.UpdatedAt = time.Unix(0, updatedAt)
		index[sec.Name] = len(sections)
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "error iterating sections")
	}

	bulletRows, err := s.db.QueryContext(ctx, bulletQuery, bulletArgs...)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to load bullets")
	}
	defer bulletRows.Close()

	for bulletRows.Next() {
		bullet, err := scanBullet(bulletRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[bullet.Section]; ok {
			sections[i].Bullets = append(sections[i].Bullets, *bullet)
		}
	}
	if err := bulletRows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "error iterating bullets")
	}

	return sections, nil
}

// TopStrategies returns up to limit bullets ranked by
// helpful_count - harmful_count descending, ties broken by most recent
// updated_at then created_at.
func (s *Store) TopStrategies(ctx context.Context, limit int) ([]Bullet, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
    SELECT b.bullet_id, b.content, b.helpful_count, b.harmful_count, b.metadata,
           b.created_at, b.updated_at, s.name, s.display_name
    FROM playbook_bullet b
    JOIN playbook_section s ON s.id = b.section_id
    ORDER BY (b.helpful_count - b.harmful_count) DESC, b.updated_at DESC, b.created_at DESC
    LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to rank strategies")
	}
	defer rows.Close()

	var bullets []Bullet
	for rows.Next() {
		bullet, err := scanBullet(rows)
		if err != nil {
			return nil, err
		}
		bullets = append(bullets, *bullet)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "error iterating strategies")
	}

	return bullets, nil
}

// GetBullet returns a single bullet by its caller-assigned ID.
func (s *Store) GetBullet(ctx context.Context, bulletID string) (*Bullet, error) {
	query := `
    SELECT b.bullet_id, b.content, b.helpful_count, b.harmful_count, b.metadata,
           b.created_at, b.updated_at, s.name, s.display_name
    FROM playbook_bullet b
    JOIN playbook_section s ON s.id = b.section_id
    WHERE b.bullet_id = ?`

	row := s.db.QueryRowContext(ctx, query, bulletID)
	bullet, err := scanBullet(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "bullet not found"),
			errors.Fields{"bullet_id": bulletID},
		)
	}
	if err != nil {
		return nil, err
	}
	return bullet, nil
}

// ApplyDelta applies the batch atomically: every operation succeeds or
// none are persisted. TAG operations targeting the same bullet are
// aggregated into single in-place increments before commit; the
// returned Revision records the original, unaggregated list. The
// inverse of each applied operation is captured from pre-operation
// state and stored with the revision for Rollback.
func (s *Store) ApplyDelta(ctx context.Context, ops []DeltaOperation, opts ApplyOptions) (*Revision, error) {
	if err := ValidateBatch(ops); err != nil {
		return nil, err
	}
	return s.applyBatch(ctx, Aggregate(ops), ops, opts)
}

// Rollback replays the inverse batch captured when the target revision
// was applied, committing it as a brand-new forward revision that
// references the original. The replay runs against current state, so
// rolling back an already-reverted or independently-modified revision
// is legal; an inverse that no longer applies surfaces as a typed
// error, never a silent no-op. A revision whose operations netted to
// zero has an empty inverse, so its rollback commits an empty-effect
// revision that only records the attempt.
func (s *Store) Rollback(ctx context.Context, revisionID string) (*Revision, error) {
	var operations string
	err := s.db.QueryRowContext(ctx,
		"SELECT inverse_ops FROM playbook_revision WHERE id = ?", revisionID,
	).Scan(&operations)
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "revision not found"),
			errors.Fields{"revision_id": revisionID},
		)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to load revision")
	}

	var inverse []DeltaOperation
	if err := json.Unmarshal([]byte(operations), &inverse); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Conflict, "revision inverse is unreadable"),
			errors.Fields{"revision_id": revisionID},
		)
	}
	revision, err := s.applyBatch(ctx, Aggregate(inverse), inverse, ApplyOptions{
		AppliedBy:   "rollback",
		Description: fmt.Sprintf("rollback of revision %s", revisionID),
		Metadata:    map[string]any{MetaRollsBack: revisionID},
	})
	if err != nil {
		return nil, errors.WithFields(err, errors.Fields{"rolls_back": revisionID})
	}
	return revision, nil
}

// ListRevisions returns revisions most recent first, up to limit
// (all of them when limit <= 0).
func (s *Store) ListRevisions(ctx context.Context, limit int) ([]Revision, error) {
	query := "SELECT id, operations, applied_by, description, metadata, created_at FROM playbook_revision ORDER BY created_at DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to list revisions")
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		var operations, metadata string
		var appliedBy, description sql.NullString
		var createdAt int64
		if err := rows.Scan(&rev.ID, &operations, &appliedBy, &description, &metadata, &createdAt); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan revision")
		}
		if err := json.Unmarshal([]byte(operations), &rev.Operations); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to decode revision operations")
		}
		rev.AppliedBy = appliedBy.String
		rev.Description = description.String
		rev.Metadata = unmarshalMeta(metadata)
		rev.CreatedAt = time.Unix(0, createdAt)
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "error iterating revisions")
	}

	return revisions, nil
}

// applyBatch runs the aggregated operations in one transaction,
// capturing inverses, and records original as the revision's audit
// operation list. Shape validation is the caller's responsibility.
func (s *Store) applyBatch(ctx context.Context, aggregated, original []DeltaOperation, opts ApplyOptions) (*Revision, error) {
	logger := logging.GetLogger()
	now := time.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to begin transaction")
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logger.Error(ctx, "failed to roll back delta transaction: %v", err)
		}
	}()

	inverse := make([]DeltaOperation, 0, len(aggregated))
	for i, op := range aggregated {
		var inv *DeltaOperation
		var applyErr error

		switch op.Action {
		case ActionAdd:
			inv, applyErr = s.applyAdd(ctx, tx, op, now)
		case ActionUpdate:
			inv, applyErr = s.applyUpdate(ctx, tx, op, now)
		case ActionTag:
			inv, applyErr = s.applyTag(ctx, tx, op, now)
		case ActionRemove:
			inv, applyErr = s.applyRemove(ctx, tx, op)
		default:
			applyErr = errors.New(errors.ValidationFailed, "unknown delta action")
		}

		if applyErr != nil {
			return nil, errors.WithFields(applyErr, errors.Fields{
				"op_index":  i,
				"action":    string(op.Action),
				"bullet_id": op.BulletID,
			})
		}
		if inv != nil {
			inverse = append(inverse, *inv)
		}
	}

	// Inverses undo the batch back-to-front so that, e.g., a REMOVE
	// undoing an ADD runs after the TAG undoing that bullet's counters.
	for i, j := 0, len(inverse)-1; i < j; i, j = i+1, j-1 {
		inverse[i], inverse[j] = inverse[j], inverse[i]
	}

	operationsJSON, err := json.Marshal(original)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to encode operations")
	}
	inverseJSON, err := json.Marshal(inverse)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to encode inverse operations")
	}

	revisionID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
    INSERT INTO playbook_revision (id, operations, inverse_ops, applied_by, description, metadata, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`,
		revisionID, string(operationsJSON), string(inverseJSON),
		nullable(opts.AppliedBy), nullable(opts.Description), marshalMeta(opts.Metadata), now,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to record revision")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to commit delta batch")
	}

	logger.Debug(ctx, "committed delta batch %s (%d operations, applied_by=%s)",
		revisionID, len(original), opts.AppliedBy)

	return &Revision{
		ID:          revisionID,
		Operations:  original,
		AppliedBy:   opts.AppliedBy,
		Description: opts.Description,
		Metadata:    opts.Metadata,
		CreatedAt:   time.Unix(0, now),
	}, nil
}

// bulletState is the pre-operation snapshot used for inverse capture.
type bulletState struct {
	content        string
	sectionName    string
	sectionDisplay string
	helpful        int
	harmful        int
	metadata       map[string]any
}

func (s *Store) bulletStateTx(ctx context.Context, tx *sql.Tx, bulletID string) (*bulletState, bool, error) {
	var state bulletState
	var metadata string
	err := tx.QueryRowContext(ctx, `
    SELECT b.content, b.helpful_count, b.harmful_count, b.metadata, s.name, s.display_name
    FROM playbook_bullet b
    JOIN playbook_section s ON s.id = b.section_id
    WHERE b.bullet_id = ?`, bulletID,
	).Scan(&state.content, &state.helpful, &state.harmful, &metadata, &state.sectionName, &state.sectionDisplay)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.Unknown, "failed to load bullet state")
	}
	state.metadata = unmarshalMeta(metadata)
	return &state, true, nil
}

func (s *Store) applyAdd(ctx context.Context, tx *sql.Tx, op DeltaOperation, now int64) (*DeltaOperation, error) {
	sectionID, err := s.getOrCreateSection(ctx, tx, op.Section, op.SectionDisplayName, now)
	if err != nil {
		return nil, err
	}

	prior, existed, err := s.bulletStateTx(ctx, tx, op.BulletID)
	if err != nil {
		return nil, err
	}

	helpful := max(op.HelpfulDelta, 0)
	harmful := max(op.HarmfulDelta, 0)

	if existed {
		_, err = tx.ExecContext(ctx, `
        UPDATE playbook_bullet
        SET content = ?, section_id = ?, metadata = ?, helpful_count = ?, harmful_count = ?, updated_at = ?
        WHERE bullet_id = ?`,
			op.Content, sectionID, marshalMeta(op.Metadata), helpful, harmful, now, op.BulletID)
		if err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to upsert bullet")
		}
		return &DeltaOperation{
			Action:             ActionAdd,
			BulletID:           op.BulletID,
			Section:            prior.sectionName,
			SectionDisplayName: prior.sectionDisplay,
			Content:            prior.content,
			Metadata:           prior.metadata,
			HelpfulDelta:       prior.helpful,
			HarmfulDelta:       prior.harmful,
		}, nil
	}

	_, err = tx.ExecContext(ctx, `
    INSERT INTO playbook_bullet (id, bullet_id, section_id, content, helpful_count, harmful_count, metadata, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), op.BulletID, sectionID, op.Content, helpful, harmful, marshalMeta(op.Metadata), now, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to insert bullet")
	}
	inv := Remove(op.BulletID)
	return &inv, nil
}

func (s *Store) applyUpdate(ctx context.Context, tx *sql.Tx, op DeltaOperation, now int64) (*DeltaOperation, error) {
	prior, existed, err := s.bulletStateTx(ctx, tx, op.BulletID)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, errors.New(errors.ResourceNotFound, "UPDATE references a bullet that does not exist")
	}

	inv := DeltaOperation{Action: ActionUpdate, BulletID: op.BulletID}
	setClauses := []string{"updated_at = ?"}
	args := []any{now}

	if op.Content != "" {
		setClauses = append(setClauses, "content = ?")
		args = append(args, op.Content)
		inv.Content = prior.content
	}
	if op.Metadata != nil {
		setClauses = append(setClauses, "metadata = ?")
		args = append(args, marshalMeta(op.Metadata))
		inv.Metadata = prior.metadata
		if inv.Metadata == nil {
			inv.Metadata = map[string]any{}
		}
	}
	if op.Section != "" {
		sectionID, err := s.getOrCreateSection(ctx, tx, op.Section, op.SectionDisplayName, now)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, "section_id = ?")
		args = append(args, sectionID)
		inv.Section = prior.sectionName
		inv.SectionDisplayName = prior.sectionDisplay
	}

	args = append(args, op.BulletID)
	_, err = tx.ExecContext(ctx,
		"UPDATE playbook_bullet SET "+strings.Join(setClauses, ", ")+" WHERE bullet_id = ?", args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to update bullet")
	}
	return &inv, nil
}

func (s *Store) applyTag(ctx context.Context, tx *sql.Tx, op DeltaOperation, now int64) (*DeltaOperation, error) {
	// A batch whose TAGs cancel out aggregates to zero deltas; only the
	// existence check remains meaningful.
	if op.HelpfulDelta == 0 && op.HarmfulDelta == 0 {
		_, existed, err := s.bulletStateTx(ctx, tx, op.BulletID)
		if err != nil {
			return nil, err
		}
		if !existed {
			return nil, errors.New(errors.ResourceNotFound, "TAG references a bullet that does not exist")
		}
		return nil, nil
	}

	// Increment in place, guarded so no counter ever goes negative.
	// Concurrent batches tagging the same bullet compose through the
	// database rather than racing a read-modify-write.
	res, err := tx.ExecContext(ctx, `
    UPDATE playbook_bullet
    SET helpful_count = helpful_count + ?, harmful_count = harmful_count + ?, updated_at = ?
    WHERE bullet_id = ? AND helpful_count + ? >= 0 AND harmful_count + ? >= 0`,
		op.HelpfulDelta, op.HarmfulDelta, now, op.BulletID, op.HelpfulDelta, op.HarmfulDelta)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to tag bullet")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to read tag result")
	}
	if affected == 0 {
		_, existed, err := s.bulletStateTx(ctx, tx, op.BulletID)
		if err != nil {
			return nil, err
		}
		if !existed {
			return nil, errors.New(errors.ResourceNotFound, "TAG references a bullet that does not exist")
		}
		return nil, errors.WithFields(
			errors.New(errors.Conflict, "TAG would drive a counter negative"),
			errors.Fields{"helpful_delta": op.HelpfulDelta, "harmful_delta": op.HarmfulDelta},
		)
	}

	return &DeltaOperation{
		Action:       ActionTag,
		BulletID:     op.BulletID,
		HelpfulDelta: -op.HelpfulDelta,
		HarmfulDelta: -op.HarmfulDelta,
	}, nil
}

func (s *Store) applyRemove(ctx context.Context, tx *sql.Tx, op DeltaOperation) (*DeltaOperation, error) {
	prior, existed, err := s.bulletStateTx(ctx, tx, op.BulletID)
	if err != nil {
		return nil, err
	}
	if !existed {
		// An error rather than a silent no-op keeps the audit trail
		// faithful: every recorded REMOVE really removed something.
		return nil, errors.New(errors.ResourceNotFound, "REMOVE references a bullet that does not exist")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM playbook_bullet WHERE bullet_id = ?", op.BulletID); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to remove bullet")
	}

	return &DeltaOperation{
		Action:             ActionAdd,
		BulletID:           op.BulletID,
		Section:            prior.sectionName,
		SectionDisplayName: prior.sectionDisplay,
		Content:            prior.content,
		Metadata:           prior.metadata,
		HelpfulDelta:       prior.helpful,
		HarmfulDelta:       prior.harmful,
	}, nil
}

var displayCaser = cases.Title(language.English)

// defaultDisplayName title-cases each underscore-separated part of a
// section name, so "error_handling" renders as "Error_Handling".
func defaultDisplayName(name string) string {
	parts := strings.Split(name, "_")
	for i, part := range parts {
		parts[i] = displayCaser.String(part)
	}
	return strings.Join(parts, "_")
}

// getOrCreateSection resolves a section by name, creating it with the
// next ordering slot when missing. Creation races on the unique name
// constraint are resolved by insert-then-refetch.
func (s *Store) getOrCreateSection(ctx context.Context, tx *sql.Tx, name, displayName string, now int64) (string, error) {
	var id, currentDisplay string
	err := tx.QueryRowContext(ctx,
		"SELECT id, display_name FROM playbook_section WHERE name = ?", name,
	).Scan(&id, &currentDisplay)
	if err != nil && err != sql.ErrNoRows {
		return "", errors.Wrap(err, errors.Unknown, "failed to look up section")
	}

	if err == nil {
		if displayName != "" && displayName != currentDisplay {
			if _, err := tx.ExecContext(ctx,
				"UPDATE playbook_section SET display_name = ?, updated_at = ? WHERE id = ?",
				displayName, now, id); err != nil {
				return "", errors.Wrap(err, errors.Unknown, "failed to update section display name")
			}
		}
		return id, nil
	}

	if displayName == "" {
		displayName = defaultDisplayName(name)
	}

	_, err = tx.ExecContext(ctx, `
    INSERT INTO playbook_section (id, name, display_name, description, ordering, metadata, created_at, updated_at)
    VALUES (?, ?, ?, NULL, (SELECT COALESCE(MAX(ordering), 0) + 1 FROM playbook_section), '{}', ?, ?)
    ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name, displayName, now, now)
	if err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to create section")
	}

	err = tx.QueryRowContext(ctx,
		"SELECT id FROM playbook_section WHERE name = ?", name,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", errors.WithFields(
			errors.New(errors.ResourceNotFound, "section cannot be created"),
			errors.Fields{"section": name},
		)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.Unknown, "failed to resolve section after create")
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBullet(row rowScanner) (*Bullet, error) {
	var b Bullet
	var metadata string
	var createdAt, updatedAt int64
	err := row.Scan(&b.BulletID, &b.Content, &b.HelpfulCount, &b.HarmfulCount, &metadata,
		&createdAt, &updatedAt, &b.Section, &b.SectionDisplayName)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to scan bullet")
	}
	b.Metadata = unmarshalMeta(metadata)
	b.CreatedAt = time.Unix(0, createdAt)
	b.UpdatedAt = time.Unix(0, updatedAt)
	return &b, nil
}

func marshalMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalMeta(data string) map[string]any {
	if data == "" || data == "{}" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil
	}
	return meta
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
