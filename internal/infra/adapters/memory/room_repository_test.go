package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/RoomMesh/internal/domain/input"
	"github.com/qrave1/RoomMesh/internal/domain/models"
)

func newTestRoom(t *testing.T, repo interface {
	Create(context.Context, *models.Room) error
}) *models.Room {
	t.Helper()

	room := models.NewRoom(&input.CreateRoomInput{CreatorID: uuid.New(), Name: "standup"}, "")
	require.NoError(t, repo.Create(context.Background(), room))

	return room
}

func TestRoomRepository_AppendDeltaAssignsSeq(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository()
	room := newTestRoom(t, repo)

	a, b := uuid.New(), uuid.New()

	d0, err := repo.AppendDelta(ctx, room.ID, models.DeltaClientJoin, a)
	require.NoError(t, err)
	d1, err := repo.AppendDelta(ctx, room.ID, models.DeltaClientJoin, b)
	require.NoError(t, err)
	d2, err := repo.AppendDelta(ctx, room.ID, models.DeltaClientLeft, a)
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 1, 2}, []int64{d0.Seq, d1.Seq, d2.Seq})

	snap, err := repo.Snapshot(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Seq())
	assert.Equal(t, []uuid.UUID{b}, snap.ClientIDs())

	stored, err := repo.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Seq)
}

func TestRoomRepository_ConcurrentAppendsHaveNoGaps(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository()
	room := newTestRoom(t, repo)

	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AppendDelta(ctx, room.ID, models.DeltaClientJoin, uuid.New())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	deltas, err := repo.Deltas(ctx, room.ID, 0, n-1)
	require.NoError(t, err)
	require.Len(t, deltas, n)

	for i, d := range deltas {
		assert.Equal(t, int64(i), d.Seq)
	}

	// снапшот, собранный из дельт, совпадает с хранимым
	replayed := models.EmptySnapshot()
	for _, d := range deltas {
		replayed, err = replayed.Apply(d)
		require.NoError(t, err)
	}

	snap, err := repo.Snapshot(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, replayed.SameMembers(snap))
	assert.Equal(t, snap.Seq(), replayed.Seq())
}

func TestRoomRepository_DeltasRange(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository()
	room := newTestRoom(t, repo)

	for i := 0; i < 5; i++ {
		_, err := repo.AppendDelta(ctx, room.ID, models.DeltaClientJoin, uuid.New())
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		from    int64
		to      int64
		wantSeq []int64
	}{
		{name: "inner range", from: 1, to: 3, wantSeq: []int64{1, 2, 3}},
		{name: "single", from: 4, to: 4, wantSeq: []int64{4}},
		{name: "beyond head", from: 3, to: 10, wantSeq: []int64{3, 4}},
		{name: "empty", from: 7, to: 9, wantSeq: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deltas, err := repo.Deltas(ctx, room.ID, tt.from, tt.to)
			require.NoError(t, err)

			var got []int64
			for _, d := range deltas {
				got = append(got, d.Seq)
			}

			assert.Equal(t, tt.wantSeq, got)
		})
	}
}

func TestRoomRepository_UnknownRoom(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository()
	id := uuid.New()

	_, err := repo.GetByID(ctx, id)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)

	_, err = repo.Snapshot(ctx, id)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)

	_, err = repo.AppendDelta(ctx, id, models.DeltaClientJoin, uuid.New())
	assert.ErrorIs(t, err, models.ErrRoomNotFound)

	_, err = repo.Deltas(ctx, id, 0, 1)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}

func TestRoomRepository_NewRoomIsEmpty(t *testing.T) {
	repo := NewRoomRepository()
	room := newTestRoom(t, repo)

	snap, err := repo.Snapshot(context.Background(), room.ID)
	require.NoError(t, err)

	assert.Equal(t, models.InitialSeq, snap.Seq())
	assert.Equal(t, 0, snap.Len())
}
