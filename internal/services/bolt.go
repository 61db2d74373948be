package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/MegaGrindStone/waterwatch-assistant/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB persists sessions and their committed messages in a BoltDB file. Session metadata lives in a
// single bucket, and each session's history in its own bucket keyed by position.
type BoltDB struct {
	db *bolt.DB
}

var sessionsBucket = []byte("sessions")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return BoltDB{}, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

func messageKey(index int) []byte {
	return []byte(fmt.Sprintf("%020d", index))
}

// Sessions retrieves every stored session together with its messages, most recent first.
func (b BoltDB) Sessions(context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket)
		if sb == nil {
			return nil
		}

		return sb.ForEach(func(_, v []byte) error {
			var sess models.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}

			mb := tx.Bucket(messageBucketName(sess.ID))
			if mb != nil {
				err := mb.ForEach(func(_, v []byte) error {
					var msg models.Message
					if err := json.Unmarshal(v, &msg); err != nil {
						return fmt.Errorf("failed to unmarshal message: %w", err)
					}
					sess.Messages = append(sess.Messages, msg)
					return nil
				})
				if err != nil {
					return err
				}
			}

			sessions = append(sessions, sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(sessions, func(a, b models.Session) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return sessions, nil
}

// SaveSession stores the session metadata and replaces its stored history with session.Messages, so
// truncated or cleared histories are persisted as they are.
func (b BoltDB) SaveSession(_ context.Context, session models.Session) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket)
		if sb == nil {
			return errors.New("sessions bucket is missing")
		}

		meta := session
		meta.Messages = nil
		v, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		if err := sb.Put([]byte(session.ID), v); err != nil {
			return fmt.Errorf("failed to put session: %w", err)
		}

		name := messageBucketName(session.ID)
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to reset message bucket: %w", err)
		}
		mb, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		for i, msg := range session.Messages {
			v, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := mb.Put(messageKey(i), v); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}
		return nil
	})
}

// DeleteSession removes a session and its history. Deleting an unknown session is not an error.
func (b BoltDB) DeleteSession(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket)
		if sb == nil {
			return nil
		}
		if err := sb.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if err := tx.DeleteBucket(messageBucketName(id)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}
