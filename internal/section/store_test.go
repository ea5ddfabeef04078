package section

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sec(id int64, title string, order int) Section {
	return Section{ID: id, Title: title, SectionOrder: order}
}

func titles(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Title
	}
	return out
}

func requireContiguous(t *testing.T, sections []Section) {
	t.Helper()
	for i, s := range sections {
		require.Equal(t, i, s.SectionOrder, "section %d at position %d", s.ID, i)
	}
}

func TestReplaceSortsAndRenumbers(t *testing.T) {
	store := NewStore()
	err := store.Replace([]Section{
		sec(3, "C", 7),
		sec(1, "A", 2),
		sec(2, "B", 2),
		sec(4, "D", -1),
	})
	require.NoError(t, err)

	list := store.List()
	assert.Equal(t, []string{"D", "A", "B", "C"}, titles(list))
	requireContiguous(t, list)
}

func TestReplaceRejectsDuplicateIDs(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0)}))

	err := store.Replace([]Section{sec(2, "B", 0), sec(2, "B again", 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.Equal(t, []string{"A"}, titles(store.List()))
}

func TestInsertAppendAssignsLength(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0), sec(2, "B", 1)}))

	created, err := store.InsertAppend(sec(3, "C", 99))
	require.NoError(t, err)
	assert.Equal(t, 2, created.SectionOrder)
	requireContiguous(t, store.List())

	_, err = store.InsertAppend(sec(3, "C", 0))
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestRemoveRenumbersAndForbidsReuse(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0), sec(2, "B", 1), sec(3, "C", 2)}))

	assert.True(t, store.Remove(2))
	list := store.List()
	assert.Equal(t, []string{"A", "C"}, titles(list))
	requireContiguous(t, list)

	assert.False(t, store.Remove(2))

	_, err := store.InsertAppend(sec(2, "B", 0))
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestReplaceDoesNotResurrectRemovedSection(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0), sec(9, "Z", 1)}))
	store.Remove(9)

	// A refetch that left the backend before the delete landed still lists 9.
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0), sec(9, "Z", 1)}))
	assert.Equal(t, []string{"A"}, titles(store.List()))
}

func TestUpdateAppliesPresentFieldsOnly(t *testing.T) {
	store := NewStore()
	base := sec(1, "A", 0)
	base.ContentText = String("old")
	base.UserNotes = String("keep me")
	require.NoError(t, store.Replace([]Section{base}))

	like := FeedbackLike
	assert.True(t, store.Update(1, Patch{ContentText: String("new"), Feedback: &like}))

	got, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, "new", got.Content())
	assert.Equal(t, FeedbackLike, got.Feedback)
	assert.Equal(t, "keep me", got.Notes())
	assert.Equal(t, "A", got.Title)
}

func TestUpdateAbsentIDIsNoop(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0)}))
	before := store.Snapshot()

	assert.False(t, store.Update(9, Patch{ContentText: String("late")}))

	after := store.Snapshot()
	assert.Equal(t, before.Revision, after.Revision)
	_, ok := store.Get(9)
	assert.False(t, ok)
}

func TestReorderToRequiresExactPermutation(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "X", 0), sec(2, "Y", 1), sec(3, "Z", 2)}))

	cases := map[string][]int64{
		"missing":   {1, 2},
		"extra":     {1, 2, 3, 4},
		"unknown":   {1, 2, 4},
		"repeated":  {1, 1, 2},
		"empty set": {},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			err := store.ReorderTo(ids)
			var invErr *InvariantError
			require.True(t, errors.As(err, &invErr), "got %v", err)
			assert.Equal(t, "reorder", invErr.Op)
			assert.Equal(t, []string{"X", "Y", "Z"}, titles(store.List()))
		})
	}

	require.NoError(t, store.ReorderTo([]int64{2, 3, 1}))
	list := store.List()
	assert.Equal(t, []string{"Y", "Z", "X"}, titles(list))
	requireContiguous(t, list)
}

func TestOrderStaysContiguousUnderRandomMutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	store := NewStore()
	nextID := int64(1)

	for step := 0; step < 500; step++ {
		switch rng.Intn(3) {
		case 0:
			_, err := store.InsertAppend(sec(nextID, "s", 0))
			require.NoError(t, err)
			nextID++
		case 1:
			ids := store.IDs()
			if len(ids) > 0 {
				store.Remove(ids[rng.Intn(len(ids))])
			}
		case 2:
			ids := store.IDs()
			rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
			require.NoError(t, store.ReorderTo(ids))
		}
		requireContiguous(t, store.List())
	}
}

func TestSnapshotsAreIsolatedFromLaterMutations(t *testing.T) {
	store := NewStore()
	base := sec(1, "A", 0)
	base.ContentText = String("v1")
	require.NoError(t, store.Replace([]Section{base}))

	snap := store.Snapshot()
	store.Update(1, Patch{ContentText: String("v2")})

	assert.Equal(t, "v1", snap.Sections[0].Content())
	*snap.Sections[0].ContentText = "mutated by reader"
	got, _ := store.Get(1)
	assert.Equal(t, "v2", got.Content())
}

func TestSubscriptionKeepsLatestSnapshot(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe()
	defer sub.Close()

	initial := <-sub.C
	assert.Empty(t, initial.Sections)

	require.NoError(t, store.Replace([]Section{sec(1, "A", 0)}))
	_, err := store.InsertAppend(sec(2, "B", 0))
	require.NoError(t, err)
	store.Remove(1)

	latest := <-sub.C
	want := []Section{sec(2, "B", 0)}
	if diff := cmp.Diff(want, latest.Sections); diff != "" {
		t.Fatalf("latest snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, store.Snapshot().Revision, latest.Revision)

	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected queued snapshot at revision %d", extra.Revision)
	default:
	}
}

func TestSubscriptionCloseClosesChannel(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe()
	<-sub.C
	sub.Close()
	sub.Close()

	_, open := <-sub.C
	assert.False(t, open)

	_, err := store.InsertAppend(sec(1, "after close", 0))
	require.NoError(t, err)
}

func TestFeedbackJSON(t *testing.T) {
	var s Section
	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"title":"T","section_order":1,"content_text":null,"feedback":null,"user_notes":null}`), &s))
	assert.Equal(t, FeedbackNone, s.Feedback)
	assert.Nil(t, s.ContentText)
	assert.False(t, s.HasContent())

	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"feedback":"dislike"}`), &s))
	assert.Equal(t, FeedbackDislike, s.Feedback)

	err := json.Unmarshal([]byte(`{"id":4,"feedback":"meh"}`), &s)
	assert.Error(t, err)

	out, err := json.Marshal(Section{ID: 1, Title: "T"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"title":"T","section_order":0,"content_text":null,"feedback":null,"user_notes":null}`, string(out))
}

func TestPatchFromKeepsIdentityAndOrder(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Replace([]Section{sec(1, "A", 0), sec(2, "B", 1)}))

	remote := Section{ID: 2, Title: "B2", SectionOrder: 0, ContentText: String("body"), Feedback: FeedbackLike}
	assert.True(t, store.Update(2, PatchFrom(remote)))

	list := store.List()
	assert.Equal(t, []string{"A", "B2"}, titles(list))
	assert.Equal(t, 1, list[1].SectionOrder)
	assert.Equal(t, "body", list[1].Content())
}
