package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the data directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var messagesBucket = []byte("messages")

// MessageFilter narrows Messages. Zero values match everything.
type MessageFilter struct {
	CategoryID    string
	SubCategoryID string
	UnreadOnly    bool
	Limit         int
}

func (f MessageFilter) match(m models.Message) bool {
	if f.CategoryID != "" && m.CategoryID != f.CategoryID {
		return false
	}

	if f.SubCategoryID != "" && m.SubCategoryID != f.SubCategoryID {
		return false
	}

	if f.UnreadOnly && m.Read {
		return false
	}

	return true
}

// State wraps a bbolt database holding every stored message.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Upsert stores a message, replacing any existing row with the same id.
// A replayed id keeps the stored read state and, when m has none, the
// stored icon path.
func (s *State) Upsert(m models.Message) error {
	if m.ID == "" {
		return fmt.Errorf("upserting message: empty id")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)

		if v := b.Get([]byte(m.ID)); v != nil {
			var old models.Message
			if err := json.Unmarshal(v, &old); err != nil {
				return fmt.Errorf("decoding message %s: %w", m.ID, err)
			}

			if old.Read && !m.Read {
				m.Read, m.Synced = true, old.Synced
			}

			if m.IconPath == "" {
				m.IconPath = old.IconPath
			}
		}

		return putMessage(b, m)
	})
}

// GetMessage returns the message with the given id, or nil if not found.
func (s *State) GetMessage(id string) (*models.Message, error) {
	var m *models.Message

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(messagesBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		m = &models.Message{}

		return json.Unmarshal(v, m)
	})

	return m, err
}

// MarkRead records a local read flip: read=true, synced=false. The ids
// join the pending-sync set until a push confirms them. Unknown and
// already read ids are skipped. Returns the ids whose state changed.
func (s *State) MarkRead(ids []string) ([]string, error) {
	return s.update(ids, func(m *models.Message) bool {
		if m.Read {
			return false
		}

		m.Read = true
		m.Synced = false

		return true
	})
}

// MarkReadSynced applies a peer-driven read: read=true, synced=true.
func (s *State) MarkReadSynced(ids []string) ([]string, error) {
	return s.update(ids, func(m *models.Message) bool {
		if m.Read && m.Synced {
			return false
		}

		m.Read = true
		m.Synced = true

		return true
	})
}

// MarkUnread applies a peer-driven unread. The peer already knows, so
// the row is left synced.
func (s *State) MarkUnread(ids []string) ([]string, error) {
	return s.update(ids, func(m *models.Message) bool {
		if !m.Read && m.Synced {
			return false
		}

		m.Read = false
		m.Synced = true

		return true
	})
}

// ConfirmSynced marks the given ids synced after a successful push.
func (s *State) ConfirmSynced(ids []string) error {
	_, err := s.update(ids, func(m *models.Message) bool {
		if m.Synced {
			return false
		}

		m.Synced = true

		return true
	})

	return err
}

// ConfirmAllSynced marks every unsynced row synced. Used at the end of a
// bulk resync, after which the pending-sync set is empty.
func (s *State) ConfirmAllSynced() (int, error) {
	count := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)

		var changed []models.Message

		err := b.ForEach(func(_, v []byte) error {
			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}

			if !m.Synced {
				m.Synced = true
				changed = append(changed, m)
			}

			return nil
		})
		if err != nil {
			return err
		}

		// bbolt forbids mutating a bucket while iterating it.
		for _, m := range changed {
			if err := putMessage(b, m); err != nil {
				return err
			}
		}

		count = len(changed)

		return nil
	})

	return count, err
}

// PendingReadSync returns the ids of every message with read=true and
// synced=false, oldest first.
func (s *State) PendingReadSync() ([]string, error) {
	msgs, err := s.collect(func(m models.Message) bool { return m.PendingSync() })
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	return ids, nil
}

// DeleteAll removes every stored message.
func (s *State) DeleteAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(messagesBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		_, err := tx.CreateBucket(messagesBucket)

		return err
	})
}

// AllMessages returns every stored message ordered by timestamp.
func (s *State) AllMessages() ([]models.Message, error) {
	return s.collect(nil)
}

// Messages returns the messages matching the filter ordered by
// timestamp, newest last. Limit keeps the newest entries.
func (s *State) Messages(f MessageFilter) ([]models.Message, error) {
	msgs, err := s.collect(f.match)
	if err != nil {
		return nil, err
	}

	if f.Limit > 0 && len(msgs) > f.Limit {
		msgs = msgs[len(msgs)-f.Limit:]
	}

	return msgs, nil
}

// DistinctCategories returns the sorted set of category ids.
func (s *State) DistinctCategories() ([]string, error) {
	msgs, err := s.collect(nil)
	if err != nil {
		return nil, err
	}

	return distinct(msgs, func(m models.Message) string { return m.CategoryID }), nil
}

// DistinctSubCategories returns the sorted set of non-empty sub-category
// ids within a category.
func (s *State) DistinctSubCategories(categoryID string) ([]string, error) {
	msgs, err := s.collect(func(m models.Message) bool { return m.CategoryID == categoryID })
	if err != nil {
		return nil, err
	}

	return distinct(msgs, func(m models.Message) string { return m.SubCategoryID }), nil
}

// Categories builds the category tree with counts and icons. The icon of
// a group is the most recent message icon that still exists on disk.
func (s *State) Categories() ([]models.Category, error) {
	msgs, err := s.collect(nil)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Category)
	subs := make(map[string]map[string]*models.SubCategory)

	var order []string

	for _, m := range msgs {
		cat, ok := byID[m.CategoryID]
		if !ok {
			cat = &models.Category{ID: m.CategoryID}
			byID[m.CategoryID] = cat
			subs[m.CategoryID] = make(map[string]*models.SubCategory)
			order = append(order, m.CategoryID)
		}

		cat.Total++
		if !m.Read {
			cat.Unread++
		}

		// msgs is oldest first, so later icons win.
		if iconExists(m.IconPath) {
			cat.IconPath = m.IconPath
		}

		if m.SubCategoryID == "" {
			continue
		}

		sub, ok := subs[m.CategoryID][m.SubCategoryID]
		if !ok {
			sub = &models.SubCategory{ID: m.SubCategoryID}
			subs[m.CategoryID][m.SubCategoryID] = sub
		}

		sub.Total++
		if !m.Read {
			sub.Unread++
		}

		if iconExists(m.IconPath) {
			sub.IconPath = m.IconPath
		}
	}

	sort.Strings(order)

	result := make([]models.Category, 0, len(order))

	for _, id := range order {
		cat := byID[id]

		for _, sub := range subs[id] {
			cat.SubCategories = append(cat.SubCategories, *sub)
		}

		sort.Slice(cat.SubCategories, func(i, j int) bool {
			return cat.SubCategories[i].ID < cat.SubCategories[j].ID
		})

		result = append(result, *cat)
	}

	return result, nil
}

// update applies fn to each existing message in ids inside one
// transaction and returns the ids fn reported as changed.
func (s *State) update(ids []string, fn func(m *models.Message) bool) ([]string, error) {
	var changed []string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)

		for _, id := range ids {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}

			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decoding message %s: %w", id, err)
			}

			if !fn(&m) {
				continue
			}

			if err := putMessage(b, m); err != nil {
				return err
			}

			changed = append(changed, id)
		}

		return nil
	})

	return changed, err
}

// collect returns the messages accepted by keep (all when nil), sorted
// by timestamp then id.
func (s *State) collect(keep func(models.Message) bool) ([]models.Message, error) {
	var msgs []models.Message

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(messagesBucket).ForEach(func(_, v []byte) error {
			var m models.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}

			if keep == nil || keep(m) {
				msgs = append(msgs, m)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}

		return msgs[i].ID < msgs[j].ID
	})

	return msgs, nil
}

func putMessage(b *bolt.Bucket, m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	return b.Put([]byte(m.ID), data)
}

func distinct(msgs []models.Message, key func(models.Message) string) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, m := range msgs {
		k := key(m)
		if k == "" {
			continue
		}

		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func iconExists(path string) bool {
	if path == "" {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}
