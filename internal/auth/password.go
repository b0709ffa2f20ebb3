package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/ronin/internal/apperror"
)

// defaultCost is the bcrypt work factor for production hashes.
const defaultCost = 12

const (
	MinPasswordLength = 6
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72
)

// ErrInvalidPassword is returned by Verify when the password does not match.
var ErrInvalidPassword = errors.New("auth: invalid password")

// PasswordService hashes and checks account passwords with bcrypt.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost lets tests in other packages use the minimum
// bcrypt cost (4).
func NewPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// CheckPasswordPolicy rejects passwords outside the accepted length range.
func CheckPasswordPolicy(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return apperror.ValidationFailed("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(plaintext) > MaxPasswordLength {
		return apperror.ValidationFailed("password", fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordLength))
	}
	return nil
}

// Hash returns a self-describing bcrypt hash ($2a$<cost>$<salt><hash>).
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordLength {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordLength)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil on a match and ErrInvalidPassword on a mismatch. An
// empty hash (GitHub-only accounts) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrInvalidPassword
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
