// Package store implements the durable identity store of the bridge: the
// message mapping table and the seen-message deduplication set.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"instabridge/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_mapping (
	relay_chat_id     BIGINT NOT NULL,
	relay_message_id  BIGINT NOT NULL,
	conversation_id   TEXT NOT NULL,
	source_message_id TEXT NOT NULL,
	sender_handle     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (relay_chat_id, relay_message_id)
);
CREATE INDEX IF NOT EXISTS idx_mapping_source ON message_mapping (source_message_id);

CREATE TABLE IF NOT EXISTS seen_messages (
	source_message_id TEXT PRIMARY KEY,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// seenCacheTTL bounds the hot-path cache in front of seen_messages. The
// database remains the source of truth; the cache only short-circuits repeat
// lookups within a few poll cycles.
const seenCacheTTL = 10 * time.Minute

// Store is the durable mapping table plus deduplication set. Safe for
// concurrent use; same-key write serialization is delegated to the database.
type Store struct {
	db   *sqlx.DB
	seen *cache.Cache
}

// Open connects to the database selected by the DSN (postgres:// for
// PostgreSQL, anything else is treated as a SQLite file DSN) and applies the
// schema.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:   db,
		seen: cache.New(seenCacheTTL, 2*seenCacheTTL),
	}

	if st, err := s.Stats(context.Background()); err == nil {
		log.Info().
			Str("driver", driver).
			Int64("seenMessages", st.SeenMessages).
			Int64("mappings", st.Mappings).
			Msg("Identity store opened")
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasSeen reports whether the source message id was already processed.
func (s *Store) HasSeen(ctx context.Context, sourceMessageID string) (bool, error) {
	if _, ok := s.seen.Get(sourceMessageID); ok {
		return true, nil
	}

	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM seen_messages WHERE source_message_id = $1`, sourceMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query seen_messages: %w", err)
	}

	s.seen.Set(sourceMessageID, struct{}{}, cache.DefaultExpiration)
	return true, nil
}

// MarkSeen records the source message id. Idempotent.
func (s *Store) MarkSeen(ctx context.Context, sourceMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_messages (source_message_id) VALUES ($1)
		 ON CONFLICT (source_message_id) DO NOTHING`, sourceMessageID)
	if err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	s.seen.Set(sourceMessageID, struct{}{}, cache.DefaultExpiration)
	return nil
}

// Claim atomically checks-and-marks the source message id. It returns true
// exactly once per id: the caller that observes true owns the message and must
// complete the claim before any network side effect begins.
func (s *Store) Claim(ctx context.Context, sourceMessageID string) (bool, error) {
	if _, ok := s.seen.Get(sourceMessageID); ok {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_messages (source_message_id) VALUES ($1)
		 ON CONFLICT (source_message_id) DO NOTHING`, sourceMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	s.seen.Set(sourceMessageID, struct{}{}, cache.DefaultExpiration)
	return n > 0, nil
}

// SaveMapping upserts the mapping keyed by (relay_chat_id, relay_message_id).
// Overwriting an existing relay key is allowed but never happens in normal
// flow.
func (s *Store) SaveMapping(ctx context.Context, m models.MessageMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_mapping
		   (relay_chat_id, relay_message_id, conversation_id, source_message_id, sender_handle)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (relay_chat_id, relay_message_id) DO UPDATE SET
		   conversation_id = excluded.conversation_id,
		   source_message_id = excluded.source_message_id,
		   sender_handle = excluded.sender_handle`,
		m.RelayChatID, m.RelayMessageID, m.ConversationID, m.SourceMessageID, m.SenderHandle)
	if err != nil {
		return fmt.Errorf("failed to save mapping for relay message %d: %w", m.RelayMessageID, err)
	}
	return nil
}

// LookupByRelayRef resolves a relay-side message back to its source origin.
// Returns (nil, nil) when no mapping exists.
func (s *Store) LookupByRelayRef(ctx context.Context, chatID int64, messageID int) (*models.MessageMapping, error) {
	var m models.MessageMapping
	err := s.db.GetContext(ctx, &m,
		`SELECT relay_chat_id, relay_message_id, conversation_id, source_message_id, sender_handle, created_at
		 FROM message_mapping
		 WHERE relay_chat_id = $1 AND relay_message_id = $2`, chatID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up mapping: %w", err)
	}
	return &m, nil
}

// PruneSeen deletes seen entries older than the cutoff. Mappings are never
// pruned; they are the audit trail. Callers that enable retention accept that
// a message older than the window could in principle be re-delivered.
func (s *Store) PruneSeen(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_messages WHERE created_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune seen_messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Time("olderThan", olderThan).Msg("Pruned seen messages")
	}
	return n, nil
}

// Stats holds row counts for the status endpoint.
type Stats struct {
	SeenMessages int64 `json:"seen_messages"`
	Mappings     int64 `json:"mappings"`
}

// Stats returns current table sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.GetContext(ctx, &st.SeenMessages, `SELECT COUNT(*) FROM seen_messages`); err != nil {
		return Stats{}, fmt.Errorf("failed to count seen_messages: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.Mappings, `SELECT COUNT(*) FROM message_mapping`); err != nil {
		return Stats{}, fmt.Errorf("failed to count message_mapping: %w", err)
	}
	return st, nil
}
