package usecase

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/RoomMesh/internal/domain/input"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/memory"
)

func TestRoomUsecase_Passcode(t *testing.T) {
	ctx := context.Background()
	uc := NewRoomUsecase(memory.NewRoomRepository())

	protected, err := uc.CreateRoom(ctx, &input.CreateRoomInput{CreatorID: uuid.New(), Name: "team", Passcode: "1234"})
	require.NoError(t, err)
	assert.True(t, protected.Protected())
	assert.NotEqual(t, "1234", protected.PasscodeHash)
	assert.Equal(t, models.InitialSeq, protected.Seq)

	assert.NoError(t, uc.VerifyPasscode(protected, "1234"))
	assert.ErrorIs(t, uc.VerifyPasscode(protected, "4321"), models.ErrInvalidPasscode)

	open, err := uc.CreateRoom(ctx, &input.CreateRoomInput{CreatorID: uuid.New(), Name: "lobby"})
	require.NoError(t, err)
	assert.NoError(t, uc.VerifyPasscode(open, "anything"))
}

func TestRoomUsecase_Deltas(t *testing.T) {
	ctx := context.Background()
	uc := NewRoomUsecase(memory.NewRoomRepository())

	room, err := uc.CreateRoom(ctx, &input.CreateRoomInput{CreatorID: uuid.New(), Name: "team"})
	require.NoError(t, err)

	a := uuid.New()

	join, err := uc.Join(ctx, room.ID, a)
	require.NoError(t, err)
	left, err := uc.Leave(ctx, room.ID, a)
	require.NoError(t, err)

	assert.Equal(t, models.ClientJoin(0, a).Kind, join.Kind)
	assert.Equal(t, int64(1), left.Seq)

	deltas, err := uc.Deltas(ctx, &input.DeltaRangeInput{RoomID: room.ID, FromSeq: 0, ToSeq: 1})
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, models.DeltaClientLeft, deltas[1].Kind)

	invalid := []input.DeltaRangeInput{
		{RoomID: room.ID, FromSeq: -1, ToSeq: 1},
		{RoomID: room.ID, FromSeq: 2, ToSeq: 1},
	}

	for _, in := range invalid {
		_, err := uc.Deltas(ctx, &in)
		assert.ErrorIs(t, err, models.ErrInvalidRange)
	}

	_, err = uc.Join(ctx, uuid.New(), a)
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}
