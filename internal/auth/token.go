package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller extracted from an access token. AccountID
// is the billing account; AgencyID scopes every data read.
type Identity struct {
	AccountID uuid.UUID
	AgencyID  uuid.UUID
}

type TokenManager struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
}

func NewTokenManager(secret string, accessTTL time.Duration, issuer string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("access ttl must be > 0")
	}
	return &TokenManager{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		issuer:    issuer,
	}, nil
}

// Generate issues a signed access token for the account. The agency id rides
// in a private claim so data scoping never trusts request parameters.
func (tm *TokenManager) Generate(accountID, agencyID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(tm.accessTTL)
	claims := jwt.MapClaims{
		"sub":    accountID.String(),
		"agency": agencyID.String(),
		"iat":    now.Unix(),
		"exp":    exp.Unix(),
		"iss":    tm.issuer,
		"typ":    "access",
		"jti":    uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates an access token and returns the caller
// identity.
func (tm *TokenManager) Verify(token string) (*Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != "access" {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}

	accountID, err := claimUUID(claims, "sub")
	if err != nil {
		return nil, err
	}
	agencyID, err := claimUUID(claims, "agency")
	if err != nil {
		return nil, err
	}
	return &Identity{AccountID: accountID, AgencyID: agencyID}, nil
}

func claimUUID(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	raw, _ := claims[key].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s claim", ErrInvalidToken, key)
	}
	return id, nil
}
