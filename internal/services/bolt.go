package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the widget Transcript interface using a BoltDB backend. Every session gets its own
// message bucket; message keys are zero-padded sequence numbers, so a bucket iterates in insertion order.
type BoltDB struct {
	db *bolt.DB
}

type sessionRecord struct {
	ID        string
	CreatedAt time.Time
}

var sessionsBucket = []byte("sessions")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

// putSession records the session on its first message. Recording an existing session is a no-op.
func putSession(tx *bolt.Tx, sessionID string) error {
	sb := tx.Bucket(sessionsBucket)
	if sb.Get([]byte(sessionID)) != nil {
		return nil
	}

	v, err := json.Marshal(sessionRecord{ID: sessionID, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return sb.Put([]byte(sessionID), v)
}

// Sessions returns the IDs of every session that has stored messages.
func (b BoltDB) Sessions(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteSession removes a session together with all of its messages.
func (b BoltDB) DeleteSession(_ context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(sessionsBucket).Delete([]byte(sessionID)); err != nil {
			return err
		}
		err := tx.DeleteBucket(messageBucketName(sessionID))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}

// Messages retrieves all messages of the session in the order they were added. An unknown session has
// no messages.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}

		return mb.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage stores a new message in the session's bucket, recording the session first if this is its
// first message. The stored ID combines a zero-padded sequence number with the message's original ID; it
// is returned and must be used for later updates.
func (b BoltDB) AddMessage(_ context.Context, sessionID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := putSession(tx, sessionID); err != nil {
			return err
		}

		mb, err := tx.CreateBucketIfNotExists(messageBucketName(sessionID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		seq, err := mb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%010d-%s", seq, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return mb.Put([]byte(newID), v)
	})
	if err != nil {
		return "", err
	}

	return newID, nil
}

// UpdateMessage overwrites an existing message of the session. If the message doesn't exist, the
// operation is silently ignored.
func (b BoltDB) UpdateMessage(_ context.Context, sessionID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}

		if mb.Get([]byte(message.ID)) == nil {
			return nil
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return mb.Put([]byte(message.ID), v)
	})
}
