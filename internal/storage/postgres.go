package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/bizchat/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

// exclusion_violation, raised by calendar_events_no_overlap
const pqExclusionViolation = "23P01"

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger, now: time.Now}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("PostgreSQL storage ready",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapPQError(fmt.Errorf("error committing transaction: %w", err))
	}
	return nil
}

// mapPQError turns constraint violations into storage sentinels.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqExclusionViolation {
		return ErrOverlap
	}
	return err
}

// Calendar methods

const calendarColumns = `id, agent_id, timezone, windows, created_at`

func scanCalendar(row interface{ Scan(...any) error }) (*models.Calendar, error) {
	cal := &models.Calendar{}
	var windows []byte
	if err := row.Scan(&cal.ID, &cal.AgentID, &cal.Timezone, &windows, &cal.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(windows, &cal.Windows); err != nil {
		return nil, fmt.Errorf("error decoding calendar windows: %w", err)
	}
	return cal, nil
}

func (s *PostgresStorage) GetCalendar(ctx context.Context, agentID string) (*models.Calendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM calendars WHERE agent_id = $1`
	cal, err := scanCalendar(s.db.QueryRowContext(ctx, query, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying calendar: %w", err)
	}
	return cal, nil
}

func (s *PostgresStorage) GetOrCreateCalendar(ctx context.Context, defaults *models.Calendar) (*models.Calendar, error) {
	windows, err := json.Marshal(defaults.Windows)
	if err != nil {
		return nil, fmt.Errorf("error encoding calendar windows: %w", err)
	}
	id := defaults.ID
	if id == "" {
		id = uuid.New().String()
	}

	// Losing an insert race is fine: the unique agent_id keeps one row.
	query := `
		INSERT INTO calendars (id, agent_id, timezone, windows)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, id, defaults.AgentID, defaults.Timezone, windows); err != nil {
		return nil, fmt.Errorf("error creating calendar: %w", err)
	}
	return s.GetCalendar(ctx, defaults.AgentID)
}

const eventColumns = `id, calendar_id, start_time, end_time, customer_name, customer_phone,
	customer_email, description, status, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.CalendarEvent, error) {
	e := &models.CalendarEvent{}
	err := row.Scan(
		&e.ID,
		&e.CalendarID,
		&e.Start,
		&e.End,
		&e.CustomerName,
		&e.CustomerPhone,
		&e.CustomerEmail,
		&e.Description,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}

func scanEvents(rows *sql.Rows) ([]*models.CalendarEvent, error) {
	defer rows.Close()

	var events []*models.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStorage) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*models.CalendarEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE calendar_id = $1 AND status <> 'cancelled' AND start_time < $3 AND end_time > $2
		ORDER BY start_time`

	rows, err := s.db.QueryContext(ctx, query, calendarID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	return scanEvents(rows)
}

// lockCalendar serialises writers on one calendar for the rest of tx.
func lockCalendar(ctx context.Context, tx *sql.Tx, calendarID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM calendars WHERE id = $1 FOR UPDATE`, calendarID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error locking calendar: %w", err)
	}
	return nil
}

func overlapExists(ctx context.Context, tx *sql.Tx, event *models.CalendarEvent, ignoreID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM calendar_events
			WHERE calendar_id = $1 AND status <> 'cancelled'
			  AND start_time < $3 AND end_time > $2
			  AND ($4 = '' OR id::text <> $4)
		)`
	var exists bool
	if err := tx.QueryRowContext(ctx, query, event.CalendarID, event.Start, event.End, ignoreID).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking overlap: %w", err)
	}
	return exists, nil
}

func (s *PostgresStorage) insertEventTx(ctx context.Context, tx *sql.Tx, event *models.CalendarEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := s.now()
	event.CreatedAt = now
	event.UpdatedAt = now

	query := `
		INSERT INTO calendar_events (id, calendar_id, start_time, end_time, customer_name, customer_phone,
			customer_email, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := tx.ExecContext(ctx, query,
		event.ID,
		event.CalendarID,
		event.Start,
		event.End,
		event.CustomerName,
		event.CustomerPhone,
		event.CustomerEmail,
		event.Description,
		event.Status,
		now,
	)
	if err != nil {
		return mapPQError(fmt.Errorf("error inserting event: %w", err))
	}
	return nil
}

func (s *PostgresStorage) InsertEvent(ctx context.Context, event *models.CalendarEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockCalendar(ctx, tx, event.CalendarID); err != nil {
			return err
		}
		overlap, err := overlapExists(ctx, tx, event, "")
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}
		return s.insertEventTx(ctx, tx, event)
	})
}

func (s *PostgresStorage) RescheduleEvent(ctx context.Context, oldEventID string, event *models.CalendarEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockCalendar(ctx, tx, event.CalendarID); err != nil {
			return err
		}
		overlap, err := overlapExists(ctx, tx, event, oldEventID)
		if err != nil {
			return err
		}
		if overlap {
			return ErrOverlap
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE calendar_events SET status = 'cancelled', updated_at = $2
			WHERE id = $1 AND calendar_id = $3 AND status <> 'cancelled'`,
			oldEventID, s.now(), event.CalendarID)
		if err != nil {
			return fmt.Errorf("error cancelling event: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("error getting rows affected: %w", err)
		} else if n == 0 {
			return ErrNotFound
		}
		return s.insertEventTx(ctx, tx, event)
	})
}

func (s *PostgresStorage) GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE id = $1`
	e, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying event: %w", err)
	}
	return e, nil
}

func (s *PostgresStorage) TransitionEventStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (*models.CalendarEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	query := `
		UPDATE calendar_events SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + eventColumns
	e, err := scanEvent(s.db.QueryRowContext(ctx, query, id, to, s.now(), pq.Array(allowed)))
	if errors.Is(err, sql.ErrNoRows) {
		// Missing, or no longer in a state the transition applies to.
		return s.GetEvent(ctx, id)
	}
	if err != nil {
		return nil, mapPQError(fmt.Errorf("error updating event status: %w", err))
	}
	return e, nil
}

func (s *PostgresStorage) ListUpcomingEvents(ctx context.Context, calendarID string, from time.Time, phone string, limit int) ([]*models.CalendarEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + eventColumns + `
		FROM calendar_events
		WHERE calendar_id = $1 AND status <> 'cancelled' AND start_time >= $2
		  AND ($3 = '' OR customer_phone = $3)
		ORDER BY start_time
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, calendarID, from, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying upcoming events: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStorage) CountEventsByStatus(ctx context.Context, calendarID string, from, to time.Time) (map[models.EventStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM calendar_events
		WHERE calendar_id = $1 AND start_time >= $2 AND start_time < $3
		GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, calendarID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error counting events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventStatus]int)
	for rows.Next() {
		var status models.EventStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("error scanning event count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Conversation methods

func (s *PostgresStorage) GetOrCreateConversation(ctx context.Context, sessionKey, agentID, phone string) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (id, session_key, agent_id, customer_phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_key) DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id`

	var id string
	if err := s.db.QueryRowContext(ctx, query, uuid.New().String(), sessionKey, agentID, phone).Scan(&id); err != nil {
		return nil, fmt.Errorf("error upserting conversation: %w", err)
	}
	return s.GetConversation(ctx, id, 0)
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string, turnLimit int) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, agent_id, customer_phone, metadata, created_at, updated_at
		FROM conversations WHERE id = $1`, id).Scan(
		&conv.ID, &conv.SessionKey, &conv.AgentID, &conv.CustomerPhone, &metadata, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %w", err)
	}
	if err := json.Unmarshal(metadata, &conv.Metadata); err != nil {
		return nil, fmt.Errorf("error decoding conversation metadata: %w", err)
	}

	limit := sql.NullInt64{Int64: int64(turnLimit), Valid: turnLimit > 0}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, attachment, buttons, delivery_id, created_at FROM (
			SELECT seq, id, role, content, attachment, buttons, delivery_id, created_at
			FROM conversation_turns
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent ORDER BY seq`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Turn
		var buttons []byte
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &t.Attachment, &buttons, &t.DeliveryID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning turn: %w", err)
		}
		if err := json.Unmarshal(buttons, &t.Buttons); err != nil {
			return nil, fmt.Errorf("error decoding turn buttons: %w", err)
		}
		conv.Turns = append(conv.Turns, t)
	}
	return conv, rows.Err()
}

func (s *PostgresStorage) AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	buttons, err := json.Marshal(turn.Buttons)
	if err != nil {
		return fmt.Errorf("error encoding turn buttons: %w", err)
	}
	if turn.Buttons == nil {
		buttons = []byte("[]")
	}

	query := `
		INSERT INTO conversation_turns (id, conversation_id, role, content, attachment, buttons, delivery_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query,
		turn.ID, conversationID, turn.Role, turn.Content, turn.Attachment, buttons, turn.DeliveryID, turn.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("error appending turn: %w", err)
	}
	return nil
}

// MergeMetadata reads, merges and writes back under a row lock so writers
// touching disjoint keys never lose each other's updates.
func (s *PostgresStorage) MergeMetadata(ctx context.Context, conversationID string, patch models.MetadataPatch) (*models.ConversationMetadata, error) {
	var merged models.ConversationMetadata
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("error locking conversation: %w", err)
		}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("error decoding conversation metadata: %w", err)
		}

		merged.Merge(patch)

		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("error encoding conversation metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET metadata = $2, updated_at = $3 WHERE id = $1`,
			conversationID, encoded, s.now())
		if err != nil {
			return fmt.Errorf("error updating conversation metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// Lead methods

const leadColumns = `id, owner_id, phone, name, email, score, status, tags, notes, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*models.CustomerLead, error) {
	l := &models.CustomerLead{}
	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.Phone,
		&l.Name,
		&l.Email,
		&l.Score,
		&l.Status,
		pq.Array(&l.Tags),
		&l.Notes,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

func (s *PostgresStorage) GetLead(ctx context.Context, ownerID, phone string) (*models.CustomerLead, error) {
	query := `SELECT ` + leadColumns + ` FROM customer_leads WHERE owner_id = $1 AND phone = $2`
	l, err := scanLead(s.db.QueryRowContext(ctx, query, ownerID, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying lead: %w", err)
	}
	return l, nil
}

func (s *PostgresStorage) UpdateLead(ctx context.Context, ownerID, phone string, update models.LeadUpdate) (*models.CustomerLead, error) {
	now := s.now()
	score := sql.NullInt64{}
	if update.Score != nil {
		score = sql.NullInt64{Int64: int64(*update.Score), Valid: true}
	}
	note := ""
	if update.Note != "" {
		note = FormatNote(now, update.Note)
	}
	tags := UnionTags(nil, update.Tags)

	// Tags keep first-seen order; notes only ever grow.
	query := `
		INSERT INTO customer_leads (id, owner_id, phone, name, email, score, status, tags, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, 0), COALESCE(NULLIF($7, ''), 'new'), $8, $9, $10, $10)
		ON CONFLICT (owner_id, phone) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), customer_leads.name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), customer_leads.email),
			score = COALESCE($6, customer_leads.score),
			status = COALESCE(NULLIF($7, ''), customer_leads.status),
			tags = ARRAY(
				SELECT t FROM unnest(customer_leads.tags || EXCLUDED.tags) WITH ORDINALITY AS u(t, ord)
				GROUP BY t ORDER BY MIN(ord)
			),
			notes = CASE
				WHEN EXCLUDED.notes = '' THEN customer_leads.notes
				WHEN customer_leads.notes = '' THEN EXCLUDED.notes
				ELSE customer_leads.notes || E'\n' || EXCLUDED.notes
			END,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + leadColumns

	l, err := scanLead(s.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		ownerID,
		phone,
		update.Name,
		update.Email,
		score,
		update.Status,
		pq.Array(tags),
		note,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("error upserting lead: %w", err)
	}
	return l, nil
}

// Record methods

func (s *PostgresStorage) CreateRecord(ctx context.Context, record *models.ConversationRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = s.now()
	data, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("error encoding record data: %w", err)
	}
	if record.Data == nil {
		data = []byte("{}")
	}

	query := `
		INSERT INTO conversation_records (id, conversation_id, owner_id, customer_phone, kind, data, follow_up_required, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.ConversationID,
		record.OwnerID,
		record.CustomerPhone,
		record.Kind,
		data,
		record.FollowUpRequired,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating record: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListRecords(ctx context.Context, conversationID string) ([]*models.ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, owner_id, customer_phone, kind, data, follow_up_required, created_at
		FROM conversation_records WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer rows.Close()

	var records []*models.ConversationRecord
	for rows.Next() {
		r := &models.ConversationRecord{}
		var data []byte
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.OwnerID, &r.CustomerPhone, &r.Kind, &data, &r.FollowUpRequired, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning record: %w", err)
		}
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return nil, fmt.Errorf("error decoding record data: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStorage) CreateFollowUpTasks(ctx context.Context, tasks ...*models.FollowUpTask) error {
	if len(tasks) == 0 {
		return nil
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO follow_up_tasks (id, conversation_id, owner_id, customer_phone, type, due_at, message, priority, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
		if err != nil {
			return fmt.Errorf("error preparing task insert: %w", err)
		}
		defer stmt.Close()

		for _, task := range tasks {
			if task.ID == "" {
				task.ID = uuid.New().String()
			}
			if task.Status == "" {
				task.Status = models.TaskPending
			}
			task.CreatedAt = now
			_, err := stmt.ExecContext(ctx,
				task.ID,
				task.ConversationID,
				task.OwnerID,
				task.CustomerPhone,
				task.Type,
				task.DueAt,
				task.Message,
				task.Priority,
				task.Status,
				task.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("error creating follow-up task: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStorage) ListFollowUpTasks(ctx context.Context, conversationID string) ([]*models.FollowUpTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, owner_id, customer_phone, type, due_at, message, priority, status, created_at
		FROM follow_up_tasks WHERE conversation_id = $1 ORDER BY due_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying follow-up tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.FollowUpTask
	for rows.Next() {
		t := &models.FollowUpTask{}
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.OwnerID, &t.CustomerPhone, &t.Type, &t.DueAt, &t.Message, &t.Priority, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning follow-up task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Media methods

func (s *PostgresStorage) UpsertMediaAsset(ctx context.Context, asset *models.MediaAsset) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// An asset without an id replaces the active one for its category
		// in place, so reseeding does not pile up inactive rows.
		if asset.ID == "" {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM media_assets WHERE owner_id = $1 AND category = $2 AND active FOR UPDATE`,
				asset.OwnerID, asset.Category).Scan(&asset.ID)
			if errors.Is(err, sql.ErrNoRows) {
				asset.ID = uuid.New().String()
			} else if err != nil {
				return fmt.Errorf("error querying media asset: %w", err)
			}
		}
		if asset.Active {
			_, err := tx.ExecContext(ctx,
				`UPDATE media_assets SET active = FALSE WHERE owner_id = $1 AND category = $2 AND id <> $3`,
				asset.OwnerID, asset.Category, asset.ID)
			if err != nil {
				return fmt.Errorf("error deactivating media assets: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO media_assets (id, owner_id, category, url, caption, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET url = EXCLUDED.url, caption = EXCLUDED.caption, active = EXCLUDED.active`,
			asset.ID, asset.OwnerID, asset.Category, asset.URL, asset.Caption, asset.Active)
		if err != nil {
			return fmt.Errorf("error upserting media asset: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) GetActiveMediaAsset(ctx context.Context, ownerID, category string) (*models.MediaAsset, error) {
	a := &models.MediaAsset{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, category, url, caption, active
		FROM media_assets WHERE owner_id = $1 AND category = $2 AND active`, ownerID, category).Scan(
		&a.ID, &a.OwnerID, &a.Category, &a.URL, &a.Caption, &a.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying media asset: %w", err)
	}
	return a, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
