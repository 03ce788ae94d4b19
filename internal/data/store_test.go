package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obs-showctl/internal/model"
)

// exerciseStore runs the same CRUD expectations against any ConfigStore.
func exerciseStore(t *testing.T, store ConfigStore) {
	ctx := context.Background()

	t.Run("empty_store", func(t *testing.T) {
		names, err := store.ListShowNames(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
		insts, err := store.ListInstances(ctx)
		require.NoError(t, err)
		assert.Empty(t, insts)
	})

	t.Run("create_and_get_show_keeps_target_order", func(t *testing.T) {
		show := &model.Show{Name: "opening", Targets: []model.TargetState{
			{Instance: "b", State: "Intro"},
			{Instance: "a", State: "Wide"},
			{Instance: "c", State: "Close"},
		}}
		require.NoError(t, store.CreateShow(ctx, show))

		got, err := store.GetShow(ctx, "opening")
		require.NoError(t, err)
		assert.Equal(t, show, got)
	})

	t.Run("create_duplicate_is_already_exists", func(t *testing.T) {
		err := store.CreateShow(ctx, &model.Show{Name: "opening"})
		assert.ErrorIs(t, err, model.ErrAlreadyExists)
	})

	t.Run("create_invalid_is_rejected", func(t *testing.T) {
		err := store.CreateShow(ctx, &model.Show{Name: "bad", Targets: []model.TargetState{{Instance: "a"}}})
		assert.ErrorIs(t, err, model.ErrInvalid)
		_, err = store.GetShow(ctx, "bad")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("empty_show_round_trips", func(t *testing.T) {
		require.NoError(t, store.CreateShow(ctx, &model.Show{Name: "blank"}))
		got, err := store.GetShow(ctx, "blank")
		require.NoError(t, err)
		assert.NotNil(t, got.Targets)
		assert.Empty(t, got.Targets)
	})

	t.Run("get_missing_is_not_found", func(t *testing.T) {
		_, err := store.GetShow(ctx, "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("replace_overwrites_targets", func(t *testing.T) {
		next := &model.Show{Name: "opening", Targets: []model.TargetState{{Instance: "a", State: "Outro"}}}
		require.NoError(t, store.ReplaceShow(ctx, "opening", next))
		got, err := store.GetShow(ctx, "opening")
		require.NoError(t, err)
		assert.Equal(t, next, got)
	})

	t.Run("replace_can_rename", func(t *testing.T) {
		require.NoError(t, store.ReplaceShow(ctx, "opening", &model.Show{Name: "intro"}))
		_, err := store.GetShow(ctx, "opening")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = store.GetShow(ctx, "intro")
		assert.NoError(t, err)
	})

	t.Run("replace_onto_taken_name_is_already_exists", func(t *testing.T) {
		err := store.ReplaceShow(ctx, "intro", &model.Show{Name: "blank"})
		assert.ErrorIs(t, err, model.ErrAlreadyExists)
	})

	t.Run("replace_missing_is_not_found", func(t *testing.T) {
		err := store.ReplaceShow(ctx, "ghost", &model.Show{Name: "ghost"})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("list_names_is_sorted", func(t *testing.T) {
		names, err := store.ListShowNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"blank", "intro"}, names)
	})

	t.Run("delete_show", func(t *testing.T) {
		require.NoError(t, store.DeleteShow(ctx, "blank"))
		assert.ErrorIs(t, store.DeleteShow(ctx, "blank"), model.ErrNotFound)
	})

	t.Run("instances_upsert_and_delete", func(t *testing.T) {
		require.NoError(t, store.SaveInstance(ctx, model.Instance{ID: "b", URL: "ws://b:4455"}))
		require.NoError(t, store.SaveInstance(ctx, model.Instance{ID: "a", URL: "ws://a:4455", Password: "pw"}))
		require.NoError(t, store.SaveInstance(ctx, model.Instance{ID: "b", URL: "ws://b2:4455"}))

		insts, err := store.ListInstances(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.Instance{
			{ID: "a", URL: "ws://a:4455", Password: "pw"},
			{ID: "b", URL: "ws://b2:4455"},
		}, insts)

		require.NoError(t, store.DeleteInstance(ctx, "a"))
		assert.ErrorIs(t, store.DeleteInstance(ctx, "a"), model.ErrNotFound)
		assert.ErrorIs(t, store.SaveInstance(ctx, model.Instance{ID: "x"}), model.ErrInvalid)
	})
}
