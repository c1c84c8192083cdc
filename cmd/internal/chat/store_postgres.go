package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - InsertMessage takes a per-pair transactional advisory lock so that concurrent
//   sends between the same pair are linearized: the conversation summary can
//   never reflect an older message than the last durably written one.
// - Across different pairs no ordering is guaranteed or required.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// InsertMessage persists a message and upserts the pair's conversation summary
// in one transaction.
func (s *PostgresStore) InsertMessage(ctx context.Context, in SendInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if in.SenderEmail == "" || in.ReceiverEmail == "" || in.Content == "" {
		return Message{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")
	conversations := pgIdent(s.schema, "conversations")

	lo, hi := PairKey(in.SenderEmail, in.ReceiverEmail)

	// Serialize all writes per pair so the summary row cannot be overwritten by
	// an older concurrent send. hashtextextended reduces collision risk vs hashtext.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		lo+"|"+hi,
	); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	var msg Message
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (sender_email, receiver_email, content, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, sender_email, receiver_email, content, created_at`,
		in.SenderEmail, in.ReceiverEmail, in.Content, now,
	).Scan(&msg.ID, &msg.SenderEmail, &msg.ReceiverEmail, &msg.Content, &msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (user1_email, user2_email, last_message, last_sender_email, last_updated)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user1_email, user2_email) DO UPDATE
		    SET last_message      = EXCLUDED.last_message,
		        last_sender_email = EXCLUDED.last_sender_email,
		        last_updated      = EXCLUDED.last_updated`,
		lo, hi, in.Content, in.SenderEmail, now,
	); err != nil {
		return Message{}, fmt.Errorf("upsert conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// MessagesByUser returns all messages where email is sender or receiver, in id order.
func (s *PostgresStore) MessagesByUser(ctx context.Context, email string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if email == "" {
		return nil, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_email, receiver_email, content, created_at
		   FROM `+messages+`
		  WHERE sender_email = $1 OR receiver_email = $1
		  ORDER BY id ASC`,
		email,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MessagesBetween returns all messages between a and b, either direction, in id order.
func (s *PostgresStore) MessagesBetween(ctx context.Context, a, b string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if a == "" || b == "" {
		return nil, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_email, receiver_email, content, created_at
		   FROM `+messages+`
		  WHERE (sender_email = $1 AND receiver_email = $2)
		     OR (sender_email = $2 AND receiver_email = $1)
		  ORDER BY id ASC`,
		a, b,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// UpsertConversation inserts or overwrites the summary row for the pair.
func (s *PostgresStore) UpsertConversation(ctx context.Context, a, b, lastMessage, lastSender string, now time.Time) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("chat: nil store")
	}
	if a == "" || b == "" {
		return Conversation{}, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	conversations := pgIdent(s.schema, "conversations")

	lo, hi := PairKey(a, b)

	var c Conversation
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (user1_email, user2_email, last_message, last_sender_email, last_updated)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user1_email, user2_email) DO UPDATE
		    SET last_message      = EXCLUDED.last_message,
		        last_sender_email = EXCLUDED.last_sender_email,
		        last_updated      = EXCLUDED.last_updated
		 RETURNING user1_email, user2_email, last_message, last_sender_email, last_updated`,
		lo, hi, lastMessage, lastSender, now,
	).Scan(&c.User1Email, &c.User2Email, &c.LastMessage, &c.LastSenderEmail, &c.LastUpdated); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// ListInbox returns every conversation involving email, most recent first.
// OtherUserEmail is computed in the query, never stored.
func (s *PostgresStore) ListInbox(ctx context.Context, email string) ([]Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if email == "" {
		return nil, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")

	rows, err := s.pool.Query(ctx,
		`SELECT user1_email, user2_email, last_message, last_sender_email, last_updated,
		        CASE WHEN user1_email = $1 THEN user2_email ELSE user1_email END AS other_user_email
		   FROM `+conversations+`
		  WHERE user1_email = $1 OR user2_email = $1
		  ORDER BY last_updated DESC, user1_email ASC, user2_email ASC`,
		email,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(
			&c.User1Email,
			&c.User2Email,
			&c.LastMessage,
			&c.LastSenderEmail,
			&c.LastUpdated,
			&c.OtherUserEmail,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	out := make([]Message, 0, 32)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderEmail, &m.ReceiverEmail, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
