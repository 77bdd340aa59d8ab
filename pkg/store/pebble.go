package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = fmt.Errorf("not found")

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// Key layout:
//   msg:<id>                      message by id
//   user:<id>                     user record
//   group:<id>                    group record
//   notif:<created_ns>-<id>       notification, sortable by age for purge
//   queue:<user>:<enq_ns>-<seq>   queue entry (see queue.go)
//   queueidx:<user>:<message_id>  undelivered message-envelope index

// SaveMessage persists a message by id.
func SaveMessage(m models.Message) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := "msg:" + m.ID
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "key", key, "error", err)
		return err
	}
	opsSaved.WithLabelValues("message").Inc()
	return nil
}

// GetMessage fetches a message by id.
func GetMessage(id string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	v, closer, err := db.Get([]byte("msg:" + id))
	if err == pebble.ErrNotFound {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid stored message %s: %w", id, err)
	}
	return m, nil
}

// SaveUser persists a full user record. The delivery core only calls
// this from seeding and tests; live mutation goes through SetUserStatus.
func SaveUser(u models.User) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := db.Set([]byte("user:"+string(u.ID)), data, pebble.Sync); err != nil {
		logger.Error("save_user_failed", "user", u.ID, "error", err)
		return err
	}
	opsSaved.WithLabelValues("user").Inc()
	return nil
}

// GetUser fetches a user record by id.
func GetUser(id models.UserID) (models.User, error) {
	var u models.User
	if db == nil {
		return u, notOpened()
	}
	v, closer, err := db.Get([]byte("user:" + string(id)))
	if err == pebble.ErrNotFound {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &u); err != nil {
		return u, fmt.Errorf("invalid stored user %s: %w", id, err)
	}
	return u, nil
}

// Friends returns the friend id list of a user.
func Friends(id models.UserID) ([]models.UserID, error) {
	u, err := GetUser(id)
	if err != nil {
		return nil, err
	}
	return u.Friends, nil
}

// SetUserStatus writes only the status and lastActive columns of a user.
func SetUserStatus(id models.UserID, status models.Status, lastActive time.Time) error {
	u, err := GetUser(id)
	if err != nil {
		return err
	}
	u.Status = status
	u.LastActive = lastActive
	return SaveUser(u)
}

// SaveGroup persists a group record.
func SaveGroup(g models.Group) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal group: %w", err)
	}
	if err := db.Set([]byte("group:"+g.ID), data, pebble.Sync); err != nil {
		logger.Error("save_group_failed", "group", g.ID, "error", err)
		return err
	}
	opsSaved.WithLabelValues("group").Inc()
	return nil
}

// GetGroup fetches a group record by id.
func GetGroup(id string) (models.Group, error) {
	var g models.Group
	if db == nil {
		return g, notOpened()
	}
	v, closer, err := db.Get([]byte("group:" + id))
	if err == pebble.ErrNotFound {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &g); err != nil {
		return g, fmt.Errorf("invalid stored group %s: %w", id, err)
	}
	return g, nil
}

// CreateNotification persists a notification record. Keys embed the
// creation timestamp so PurgeNotifications can range-scan by age.
func CreateNotification(n models.Notification) error {
	if db == nil {
		return notOpened()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	key := fmt.Sprintf("notif:%020d-%s", n.CreatedAt.UTC().UnixNano(), n.ID)
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("create_notification_failed", "key", key, "error", err)
		return err
	}
	opsSaved.WithLabelValues("notification").Inc()
	return nil
}

// PurgeNotifications deletes notifications created before cutoff and
// returns the number removed.
func PurgeNotifications(cutoff time.Time) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	prefix := []byte("notif:")
	end := []byte(fmt.Sprintf("notif:%020d", cutoff.UTC().UnixNano()))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) || bytes.Compare(k, end) >= 0 {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	batch := db.NewBatch()
	for _, k := range keys {
		if err := batch.Delete(k, nil); err != nil {
			_ = batch.Close()
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	opsPurged.WithLabelValues("notification").Add(float64(len(keys)))
	return len(keys), nil
}

// CountNotifications returns the number of stored notifications. Used by
// tests and the admin stats endpoint.
func CountNotifications() (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	prefix := []byte("notif:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		n++
	}
	return n, iter.Error()
}
