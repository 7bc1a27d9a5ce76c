package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetline/internal/app/directory"
	"meetline/internal/app/meeting"
	"meetline/internal/app/user"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries implements the account and directory stores on PostgreSQL.
type Queries struct {
	pool *pgxpool.Pool
}

var (
	_ user.Store      = (*Queries)(nil)
	_ directory.Store = (*Queries)(nil)
)

// NewQueries returns a Queries using pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

const meetingColumns = `id, name, host_id, host_name, is_public, password_hash,
	max_participants, created_at, expires_at, active`

const participantColumns = `meeting_id, participant_id, display_name, joined_at, left_at, active`

func (q *Queries) CreateUser(ctx context.Context, u user.User) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt)
	if IsUniqueViolation(err) {
		return user.ErrDuplicateEmail
	}
	return err
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return q.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return q.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (q *Queries) getUser(ctx context.Context, query string, arg string) (user.User, error) {
	var u user.User
	err := q.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	return u, err
}

func (q *Queries) CreateMeeting(ctx context.Context, m meeting.Meeting) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO meetings (`+meetingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		m.ID, m.Name, m.HostID, m.HostName, m.IsPublic, nullText(m.PasswordHash),
		m.MaxParticipants, m.CreatedAt, nullTime(m.ExpiresAt), m.Active,
	)
	switch {
	case IsUniqueViolation(err):
		return directory.ErrDuplicateID
	case IsForeignKeyViolation(err):
		return fmt.Errorf("host %s has no account: %w", m.HostID, err)
	}
	return err
}

func (q *Queries) GetMeeting(ctx context.Context, id string) (meeting.Meeting, error) {
	m, err := scanMeeting(q.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.Meeting{}, directory.ErrNotFound
	}
	return m, err
}

// AddParticipant locks the meeting row so concurrent joins to the same meeting
// serialize on the capacity check, then inserts or reactivates the row.
func (q *Queries) AddParticipant(ctx context.Context, p meeting.Participant, now time.Time) (meeting.Participant, error) {
	var out meeting.Participant

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		m, err := scanMeeting(tx.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1 FOR UPDATE`, p.MeetingID))
		if errors.Is(err, pgx.ErrNoRows) {
			return directory.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock meeting: %w", err)
		}

		switch {
		case !m.Active:
			return directory.ErrNotFound
		case m.Expired(now):
			return directory.ErrExpired
		}

		var others int
		err = tx.QueryRow(ctx, `
			SELECT count(*) FROM participants
			WHERE meeting_id = $1 AND active AND participant_id <> $2
		`, p.MeetingID, p.ParticipantID).Scan(&others)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}
		if others >= m.MaxParticipants {
			return directory.ErrFull
		}

		out, err = scanParticipant(tx.QueryRow(ctx, `
			INSERT INTO participants (meeting_id, participant_id, display_name, joined_at, left_at, active)
			VALUES ($1, $2, $3, $4, NULL, TRUE)
			ON CONFLICT (meeting_id, participant_id)
			DO UPDATE SET display_name = EXCLUDED.display_name,
			              joined_at = CASE WHEN participants.active THEN participants.joined_at ELSE EXCLUDED.joined_at END,
			              left_at = NULL,
			              active = TRUE
			RETURNING `+participantColumns,
			p.MeetingID, p.ParticipantID, p.DisplayName, p.JoinedAt,
		))
		if err != nil {
			return fmt.Errorf("upsert participant: %w", err)
		}
		return nil
	})

	return out, err
}

func (q *Queries) DeactivateParticipant(ctx context.Context, meetingID, participantID string, now time.Time) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE participants
		SET active = FALSE, left_at = $3
		WHERE meeting_id = $1 AND participant_id = $2 AND active
	`, meetingID, participantID, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return directory.ErrParticipantNotFound
	}
	return nil
}

func (q *Queries) EndMeeting(ctx context.Context, meetingID string, now time.Time) error {
	return pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `UPDATE meetings SET active = FALSE WHERE id = $1`, meetingID)
		if err != nil {
			return fmt.Errorf("deactivate meeting: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return directory.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
			UPDATE participants SET active = FALSE, left_at = $2
			WHERE meeting_id = $1 AND active
		`, meetingID, now); err != nil {
			return fmt.Errorf("deactivate participants: %w", err)
		}
		return nil
	})
}

func (q *Queries) ListActiveParticipants(ctx context.Context, meetingID string) ([]meeting.Participant, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE meeting_id = $1 AND active
		ORDER BY joined_at ASC, participant_id ASC
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]meeting.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (q *Queries) IsActiveParticipant(ctx context.Context, meetingID, participantID string) (bool, error) {
	var active bool
	err := q.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM participants
			WHERE meeting_id = $1 AND participant_id = $2 AND active
		)
	`, meetingID, participantID).Scan(&active)
	return active, err
}

func (q *Queries) ExpireMeetings(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string

	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE meetings SET active = FALSE
			WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
			RETURNING id
		`, now)
		if err != nil {
			return fmt.Errorf("expire meetings: %w", err)
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("collect expired ids: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE participants SET active = FALSE, left_at = $2
			WHERE meeting_id = ANY($1) AND active
		`, ids, now); err != nil {
			return fmt.Errorf("deactivate expired participants: %w", err)
		}
		return nil
	})

	return ids, err
}

func scanMeeting(row pgx.Row) (meeting.Meeting, error) {
	var (
		m        meeting.Meeting
		password pgtype.Text
		expires  pgtype.Timestamptz
	)

	err := row.Scan(
		&m.ID, &m.Name, &m.HostID, &m.HostName, &m.IsPublic, &password,
		&m.MaxParticipants, &m.CreatedAt, &expires, &m.Active,
	)
	if err != nil {
		return meeting.Meeting{}, err
	}

	if password.Valid {
		m.PasswordHash = password.String
	}
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	return m, nil
}

func scanParticipant(row pgx.Row) (meeting.Participant, error) {
	var (
		p    meeting.Participant
		left pgtype.Timestamptz
	)

	if err := row.Scan(&p.MeetingID, &p.ParticipantID, &p.DisplayName, &p.JoinedAt, &left, &p.Active); err != nil {
		return meeting.Participant{}, err
	}
	if left.Valid {
		t := left.Time
		p.LeftAt = &t
	}
	return p, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
