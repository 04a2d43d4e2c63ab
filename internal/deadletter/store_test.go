package deadletter

import (
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/wvb/internal/models"
)

// backends opens every store implementation in a temp directory.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}

	bs, err := OpenBolt(filepath.Join(dir, "dl.bolt"))
	require.NoError(t, err)
	stores["bbolt"] = bs

	ss, err := OpenSQLite(filepath.Join(dir, "dl.sqlite"))
	require.NoError(t, err)
	stores["sqlite"] = ss

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func failedObject(id string) models.ObjectOutcome {
	return models.ObjectOutcome{
		ID:       id,
		Errors:   []string{"invalid property"},
		Attempts: 2,
		Object: &models.BatchObject{
			ID:         id,
			Class:      "Article",
			Properties: map[string]interface{}{"title": "t-" + id},
			Vectors:    map[string]interface{}{"": []interface{}{0.5, 1.5}},
		},
	}
}

// ==================== Record Tests ====================

func TestFromOutcome_Object(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := FromOutcome(failedObject("a"), at)
	require.NoError(t, err)
	assert.Equal(t, KindObject, rec.Kind)
	assert.Equal(t, "Article", rec.Class)
	assert.Equal(t, 2, rec.Attempts)

	obj, err := rec.Object()
	require.NoError(t, err)
	assert.Equal(t, "a", obj.ID)
	assert.Equal(t, "t-a", obj.Properties["title"])

	_, err = rec.Reference()
	assert.Error(t, err)
}

func TestFromOutcome_Reference(t *testing.T) {
	ref := &models.BatchReference{FromClass: "Article", FromID: "a", FromProperty: "author", ToClass: "Person", ToID: "p"}
	rec, err := FromOutcome(models.ObjectOutcome{ID: ref.Key(), Errors: []string{"x"}, Reference: ref}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, KindReference, rec.Kind)

	got, err := rec.Reference()
	require.NoError(t, err)
	assert.Equal(t, ref, got)
}

func TestFromOutcome_Rejects(t *testing.T) {
	_, err := FromOutcome(models.ObjectOutcome{ID: "a", Success: true}, time.Now())
	assert.Error(t, err)

	_, err = FromOutcome(models.ObjectOutcome{ID: "a", Errors: []string{"x"}}, time.Now())
	assert.Error(t, err)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

// ==================== Store Tests ====================

func TestStore_PutListDelete(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var recs []*Record
			for _, id := range []string{"a", "b", "c"} {
				rec, err := FromOutcome(failedObject(id), time.Now())
				require.NoError(t, err)
				recs = append(recs, rec)
			}
			require.NoError(t, st.Put(recs...))
			assert.NotZero(t, recs[0].Seq)
			assert.Less(t, recs[0].Seq, recs[1].Seq)

			n, err := st.Count()
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			listed, err := st.List(0)
			require.NoError(t, err)
			require.Len(t, listed, 3)
			for i, rec := range listed {
				assert.Equal(t, recs[i].Seq, rec.Seq)
				assert.Equal(t, recs[i].Key, rec.Key)
				assert.Equal(t, []string{"invalid property"}, rec.Errors)
				assert.JSONEq(t, string(recs[i].Payload), string(rec.Payload))
			}

			limited, err := st.List(2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			require.NoError(t, st.Delete(recs[1].Seq, 9999))
			listed, err = st.List(0)
			require.NoError(t, err)
			require.Len(t, listed, 2)
			assert.Equal(t, "a", listed[0].Key)
			assert.Equal(t, "c", listed[1].Key)
		})
	}
}

func TestStore_DeleteManyRecords(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			total := 2*deleteChunkSize + 3
			recs := make([]*Record, 0, total)
			for i := 0; i < total; i++ {
				rec, err := FromOutcome(failedObject(strconv.Itoa(i)), time.Now())
				require.NoError(t, err)
				recs = append(recs, rec)
			}
			require.NoError(t, st.Put(recs...))

			seqs := make([]uint64, 0, total-1)
			for _, rec := range recs[:total-1] {
				seqs = append(seqs, rec.Seq)
			}
			require.NoError(t, st.Delete(seqs...))

			n, err := st.Count()
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			listed, err := st.List(0)
			require.NoError(t, err)
			require.Len(t, listed, 1)
			assert.Equal(t, recs[total-1].Seq, listed[0].Seq)
		})
	}
}

func TestStore_Empty(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			n, err := st.Count()
			require.NoError(t, err)
			assert.Zero(t, n)

			listed, err := st.List(10)
			require.NoError(t, err)
			assert.Empty(t, listed)
			assert.NoError(t, st.Delete())
		})
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dl.bolt")
	st, err := OpenBolt(path)
	require.NoError(t, err)
	rec, err := FromOutcome(failedObject("a"), time.Now())
	require.NoError(t, err)
	require.NoError(t, st.Put(rec))
	require.NoError(t, st.Close())

	st, err = OpenBolt(path)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
