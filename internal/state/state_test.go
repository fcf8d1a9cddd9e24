package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alexjbarnes/notify-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id, cat, sub string, ts int64) models.Message {
	return models.Message{
		ID:            id,
		CategoryID:    cat,
		SubCategoryID: models.SubCategoryID(cat, sub),
		Title:         "title " + id,
		Body:          "body " + id,
		Timestamp:     ts,
	}
}

func seed(t *testing.T, s *State, msgs ...models.Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, s.Upsert(m))
	}
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(msg("a", "system", "info", 1)))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	m, err := s2.GetMessage("a")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "system_info", m.SubCategoryID)
}

// --- Upsert / GetMessage ---

func TestUpsert_EmptyIDRejected(t *testing.T) {
	s := testDB(t)
	err := s.Upsert(models.Message{Title: "x"})
	assert.Error(t, err)
}

func TestUpsert_Replaces(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "system", "", 1))

	updated := msg("a", "system", "", 2)
	updated.Title = "changed"
	require.NoError(t, s.Upsert(updated))

	m, err := s.GetMessage("a")
	require.NoError(t, err)
	assert.Equal(t, "changed", m.Title)

	all, err := s.AllMessages()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsert_ReplayKeepsReadState(t *testing.T) {
	tests := []struct {
		name       string
		synced     bool
		wantSynced bool
	}{
		{"pushed read", true, true},
		{"pending read", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testDB(t)

			stored := msg("a", "chat", "work", 1)
			stored.Read = true
			stored.Synced = tt.synced
			stored.IconPath = "/icons/chat_work.png"
			seed(t, s, stored)

			replay := msg("a", "chat", "work", 5)
			replay.Title = "resent"
			require.NoError(t, s.Upsert(replay))

			m, err := s.GetMessage("a")
			require.NoError(t, err)
			assert.Equal(t, "resent", m.Title)
			assert.Equal(t, int64(5), m.Timestamp)
			assert.True(t, m.Read)
			assert.Equal(t, tt.wantSynced, m.Synced)
			assert.Equal(t, "/icons/chat_work.png", m.IconPath)
		})
	}
}

func TestUpsert_ReplayTakesNewIconPath(t *testing.T) {
	s := testDB(t)

	stored := msg("a", "chat", "", 1)
	stored.IconPath = "/icons/old.png"
	seed(t, s, stored)

	replay := msg("a", "chat", "", 2)
	replay.IconPath = "/icons/new.png"
	require.NoError(t, s.Upsert(replay))

	m, err := s.GetMessage("a")
	require.NoError(t, err)
	assert.Equal(t, "/icons/new.png", m.IconPath)
	assert.False(t, m.Read)
}

func TestGetMessage_NotFound(t *testing.T) {
	s := testDB(t)
	m, err := s.GetMessage("missing")
	require.NoError(t, err)
	assert.Nil(t, m)
}

// --- Read state ---

func TestMarkRead_JoinsPendingSet(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1), msg("b", "c", "", 2), msg("c", "c", "", 3))

	changed, err := s.MarkRead([]string{"b", "a", "missing"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, changed)

	pending, err := s.PendingReadSync()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, pending)
}

func TestMarkRead_AlreadyPendingUnchanged(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1))

	_, err := s.MarkRead([]string{"a"})
	require.NoError(t, err)

	changed, err := s.MarkRead([]string{"a"})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestMarkRead_PeerReadNotRequeued(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1))

	_, err := s.MarkReadSynced([]string{"a"})
	require.NoError(t, err)

	changed, err := s.MarkRead([]string{"a"})
	require.NoError(t, err)
	assert.Empty(t, changed)

	pending, err := s.PendingReadSync()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkReadSynced_NotPending(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1))

	changed, err := s.MarkReadSynced([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, changed)

	m, err := s.GetMessage("a")
	require.NoError(t, err)
	assert.True(t, m.Read)
	assert.True(t, m.Synced)

	pending, err := s.PendingReadSync()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkUnread_ClearsRead(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1))
	_, err := s.MarkRead([]string{"a"})
	require.NoError(t, err)

	changed, err := s.MarkUnread([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, changed)

	m, err := s.GetMessage("a")
	require.NoError(t, err)
	assert.False(t, m.Read)

	pending, err := s.PendingReadSync()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConfirmSynced_OnlyGivenIDs(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1), msg("b", "c", "", 2))
	_, err := s.MarkRead([]string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, s.ConfirmSynced([]string{"a"}))

	pending, err := s.PendingReadSync()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, pending)
}

func TestConfirmAllSynced_EmptiesPendingSet(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1), msg("b", "c", "", 2), msg("c", "c", "", 3))
	_, err := s.MarkRead([]string{"a", "c"})
	require.NoError(t, err)

	n, err := s.ConfirmAllSynced()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending, err := s.PendingReadSync()
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := s.AllMessages()
	require.NoError(t, err)
	for _, m := range all {
		assert.True(t, m.Synced, m.ID)
	}
}

// --- DeleteAll ---

func TestDeleteAll(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "c", "", 1), msg("b", "c", "", 2))

	require.NoError(t, s.DeleteAll())

	all, err := s.AllMessages()
	require.NoError(t, err)
	assert.Empty(t, all)

	seed(t, s, msg("c", "c", "", 3))
	all, err = s.AllMessages()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- Queries ---

func TestAllMessages_OrderedByTimestamp(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("z", "c", "", 1), msg("a", "c", "", 3), msg("m", "c", "", 2))

	all, err := s.AllMessages()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "z", all[0].ID)
	assert.Equal(t, "m", all[1].ID)
	assert.Equal(t, "a", all[2].ID)
}

func TestMessages_Filter(t *testing.T) {
	s := testDB(t)
	seed(t, s,
		msg("a", "system", "info", 1),
		msg("b", "system", "warn", 2),
		msg("c", "chat", "", 3),
		msg("d", "system", "info", 4),
	)
	_, err := s.MarkRead([]string{"a"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter MessageFilter
		want   []string
	}{
		{"all", MessageFilter{}, []string{"a", "b", "c", "d"}},
		{"category", MessageFilter{CategoryID: "system"}, []string{"a", "b", "d"}},
		{"sub category", MessageFilter{SubCategoryID: "system_info"}, []string{"a", "d"}},
		{"unread only", MessageFilter{CategoryID: "system", UnreadOnly: true}, []string{"b", "d"}},
		{"limit keeps newest", MessageFilter{Limit: 2}, []string{"c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Messages(tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.ID
			}

			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestDistinctCategories(t *testing.T) {
	s := testDB(t)
	seed(t, s, msg("a", "system", "info", 1), msg("b", "chat", "", 2), msg("c", "system", "", 3))

	cats, err := s.DistinctCategories()
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "system"}, cats)
}

func TestDistinctSubCategories(t *testing.T) {
	s := testDB(t)
	seed(t, s,
		msg("a", "system", "warn", 1),
		msg("b", "system", "info", 2),
		msg("c", "system", "", 3),
		msg("d", "chat", "dm", 4),
	)

	subs, err := s.DistinctSubCategories("system")
	require.NoError(t, err)
	assert.Equal(t, []string{"system_info", "system_warn"}, subs)
}

func TestCategories_CountsAndIcons(t *testing.T) {
	s := testDB(t)
	dir := t.TempDir()

	oldIcon := filepath.Join(dir, "old.png")
	newIcon := filepath.Join(dir, "new.png")
	require.NoError(t, os.WriteFile(oldIcon, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(newIcon, []byte("y"), 0o600))

	a := msg("a", "system", "info", 1)
	a.IconPath = oldIcon
	b := msg("b", "system", "info", 2)
	b.IconPath = newIcon
	c := msg("c", "system", "warn", 3)
	c.IconPath = filepath.Join(dir, "deleted.png")
	d := msg("d", "chat", "", 4)

	seed(t, s, a, b, c, d)
	_, err := s.MarkReadSynced([]string{"a"})
	require.NoError(t, err)

	cats, err := s.Categories()
	require.NoError(t, err)
	require.Len(t, cats, 2)

	chat := cats[0]
	assert.Equal(t, "chat", chat.ID)
	assert.Equal(t, 1, chat.Total)
	assert.Empty(t, chat.SubCategories)

	system := cats[1]
	assert.Equal(t, "system", system.ID)
	assert.Equal(t, 3, system.Total)
	assert.Equal(t, 2, system.Unread)
	assert.Equal(t, newIcon, system.IconPath, "missing icon files are skipped")

	require.Len(t, system.SubCategories, 2)
	assert.Equal(t, "system_info", system.SubCategories[0].ID)
	assert.Equal(t, newIcon, system.SubCategories[0].IconPath)
	assert.Equal(t, 1, system.SubCategories[0].Unread)
	assert.Equal(t, "system_warn", system.SubCategories[1].ID)
	assert.Empty(t, system.SubCategories[1].IconPath)
}
