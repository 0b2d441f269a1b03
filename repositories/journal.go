//go:generate go run go.uber.org/mock/mockgen -source=journal.go -destination=../mocks/mock_journal_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IJournalRepository interface {
	StoreRecord(record JournalRecord) error
	GetRecords(sessionID string, cursor *string) ([]JournalRecord, *string, error)
}

// JournalRecord is the persisted form of a roster change. Every record
// carries the epoch assigned by the host, so the journal replays in the
// same order the lobby observed.
type JournalRecord struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"session_id"`
	Kind        string    `json:"kind"`
	Participant string    `json:"participant,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Ready       bool      `json:"ready,omitempty"`
	Epoch       uint64    `json:"epoch"`
	At          time.Time `json:"at"`
}

type JournalRepository struct {
	db           *badger.DB
	log          *slog.Logger
	limitRecords *int
}

func NewJournalRepository(db *badger.DB, log *slog.Logger, limitRecords *int) JournalRepository {
	return JournalRepository{db: db, log: log, limitRecords: limitRecords}
}

// StoreRecord persists a roster change in BadgerDB.
// The key is formatted as "evt:{session_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two records
//     arrive at the same nanosecond.
func (j JournalRepository) StoreRecord(record JournalRecord) error {
	key := fmt.Sprintf("evt:%s:%019d:%s",
		record.SessionID,
		record.At.UnixNano(),
		record.ID,
	)
	bytes, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetRecords retrieves roster changes for a specific session using a prefix scan.
// Thanks to the padded timestamp in the key, records are naturally sorted by time.
// It stops collecting records once the configured limitRecords is reached.
func (j JournalRepository) GetRecords(sessionID string, cursor *string) ([]JournalRecord, *string, error) {
	var byteRecords [][]byte
	var records []JournalRecord
	var lastKey string
	err := j.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("evt:%s:", sessionID)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if j.limitRecords != nil && len(byteRecords) == *j.limitRecords {
				j.log.Debug(fmt.Sprintf("Maximum of %d records reached", *j.limitRecords))
				break
			}
			item := it.Item()
			// Memorize cursor part of the actual key
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				byteRecords = append(byteRecords, value)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, b := range byteRecords {
		var record JournalRecord
		if err = json.Unmarshal(b, &record); err != nil {
			return nil, nil, err
		}
		records = append(records, record)
	}
	return records, &lastKey, err
}
