package usecase

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 72 * time.Hour

// AuthUsecase выдает гостевые идентификаторы клиентов
type AuthUsecase interface {
	// Guest создает новый client_id и подписанный токен для него
	Guest() (uuid.UUID, string, error)
	GenerateJWT(clientID uuid.UUID) (string, error)
}

type authUsecase struct {
	jwtSecret []byte
}

func NewAuthUsecase(jwtSecret []byte) AuthUsecase {
	return &authUsecase{jwtSecret: jwtSecret}
}

func (uc *authUsecase) Guest() (uuid.UUID, string, error) {
	clientID := uuid.New()

	token, err := uc.GenerateJWT(clientID)
	if err != nil {
		return uuid.Nil, "", err
	}

	return clientID, token, nil
}

// GenerateJWT генерирует JWT токен для клиента
func (uc *authUsecase) GenerateJWT(clientID uuid.UUID) (string, error) {
	claims := &jwt.RegisteredClaims{
		Subject:   clientID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(uc.jwtSecret)
}
