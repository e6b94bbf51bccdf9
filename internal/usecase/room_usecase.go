package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/input"
	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/domain/repository"
)

type RoomUsecase interface {
	CreateRoom(ctx context.Context, input *input.CreateRoomInput) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	VerifyPasscode(room *models.Room, passcode string) error

	Snapshot(ctx context.Context, id uuid.UUID) (models.Snapshot, error)
	Deltas(ctx context.Context, input *input.DeltaRangeInput) ([]models.Delta, error)

	Join(ctx context.Context, roomID, clientID uuid.UUID) (models.Delta, error)
	Leave(ctx context.Context, roomID, clientID uuid.UUID) (models.Delta, error)
}

type roomUsecase struct {
	roomRepo repository.RoomRepository
}

func NewRoomUsecase(roomRepo repository.RoomRepository) RoomUsecase {
	return &roomUsecase{roomRepo: roomRepo}
}

func (uc *roomUsecase) CreateRoom(ctx context.Context, input *input.CreateRoomInput) (*models.Room, error) {
	var passcodeHash string

	if input.Passcode != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(input.Passcode), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash passcode: %w", err)
		}

		passcodeHash = string(hashed)
	}

	room := models.NewRoom(input, passcodeHash)

	if err := uc.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (uc *roomUsecase) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return uc.roomRepo.GetByID(ctx, id)
}

// VerifyPasscode пропускает любой код в комнату без пароля
func (uc *roomUsecase) VerifyPasscode(room *models.Room, passcode string) error {
	if !room.Protected() {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(room.PasscodeHash), []byte(passcode)); err != nil {
		return models.ErrInvalidPasscode
	}

	return nil
}

func (uc *roomUsecase) Snapshot(ctx context.Context, id uuid.UUID) (models.Snapshot, error) {
	return uc.roomRepo.Snapshot(ctx, id)
}

func (uc *roomUsecase) Deltas(ctx context.Context, input *input.DeltaRangeInput) ([]models.Delta, error) {
	if input.FromSeq < 0 || input.FromSeq > input.ToSeq {
		return nil, fmt.Errorf("%w: [%d, %d]", models.ErrInvalidRange, input.FromSeq, input.ToSeq)
	}

	return uc.roomRepo.Deltas(ctx, input.RoomID, input.FromSeq, input.ToSeq)
}

func (uc *roomUsecase) Join(ctx context.Context, roomID, clientID uuid.UUID) (models.Delta, error) {
	return uc.appendDelta(ctx, roomID, models.DeltaClientJoin, clientID)
}

func (uc *roomUsecase) Leave(ctx context.Context, roomID, clientID uuid.UUID) (models.Delta, error) {
	return uc.appendDelta(ctx, roomID, models.DeltaClientLeft, clientID)
}

func (uc *roomUsecase) appendDelta(
	ctx context.Context,
	roomID uuid.UUID,
	kind models.DeltaKind,
	clientID uuid.UUID,
) (models.Delta, error) {
	delta, err := uc.roomRepo.AppendDelta(ctx, roomID, kind, clientID)
	if err != nil {
		return models.Delta{}, fmt.Errorf("append %s: %w", kind, err)
	}

	metric.RecordDelta(string(kind))

	return delta, nil
}
