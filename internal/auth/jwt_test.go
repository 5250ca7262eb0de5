package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate(t *testing.T) {
	svc := NewJWTService("secret", 1)
	id := uuid.New()
	tok, err := svc.Generate(id, "a@example.com")
	require.NoError(t, err)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestValidate_rejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	other := NewJWTService("other", 1)
	tok, err := other.Generate(uuid.New(), "a@example.com")
	require.NoError(t, err)

	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTService("secret", -1)
	tok, err = expired.Generate(uuid.New(), "a@example.com")
	require.NoError(t, err)
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_issuer(t *testing.T) {
	svc := NewJWTService("secret", 1, WithIssuer("https://id.example.com"))
	tok, err := svc.Generate(uuid.New(), "a@example.com")
	require.NoError(t, err)
	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID.String(), claims.Subject)

	foreign := NewJWTService("secret", 1, WithIssuer("https://other.example.com"))
	tok, err = foreign.Generate(uuid.New(), "a@example.com")
	require.NoError(t, err)
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_requiresUser(t *testing.T) {
	svc := NewJWTService("secret", 1)
	tok, err := svc.Generate(uuid.Nil, "nobody@example.com")
	require.NoError(t, err)
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
