package utils

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"reachly/models"
)

var ErrNoSession = errors.New("no active session stored")

// SessionStore is the session/credential provider. Credentials and
// session tokens live encrypted on the Sender row.
type SessionStore struct {
	DB *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{DB: db}
}

// GetSenderCredentials returns the decrypted login credentials.
func (ss *SessionStore) GetSenderCredentials(senderID uint) (SenderCredentials, error) {
	var sender models.Sender
	if err := ss.DB.First(&sender, senderID).Error; err != nil {
		return SenderCredentials{}, err
	}

	password, err := Decrypt(sender.LinkedInPassword)
	if err != nil {
		return SenderCredentials{}, err
	}
	totp, err := Decrypt(sender.TOTPSecret)
	if err != nil {
		return SenderCredentials{}, err
	}

	return SenderCredentials{
		Email:      sender.Email,
		Password:   password,
		TOTPSecret: totp,
	}, nil
}

// GetStoredSession returns the decrypted session token, or ErrNoSession
// when none is usable.
func (ss *SessionStore) GetStoredSession(senderID uint) (string, error) {
	var sender models.Sender
	if err := ss.DB.First(&sender, senderID).Error; err != nil {
		return "", err
	}

	if sender.SessionStatus != models.SessionActive || sender.SessionToken == "" {
		return "", ErrNoSession
	}
	return Decrypt(sender.SessionToken)
}

// SaveSession persists a fresh session token and marks it active.
func (ss *SessionStore) SaveSession(senderID uint, token string) error {
	encrypted, err := Encrypt(token)
	if err != nil {
		return err
	}

	return ss.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"session_token":      encrypted,
			"session_status":     models.SessionActive,
			"session_updated_at": time.Now(),
		}).Error
}

// ExpireSession marks the stored session unusable, forcing the next
// tick to re-bootstrap.
func (ss *SessionStore) ExpireSession(senderID uint) error {
	return ss.DB.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Update("session_status", models.SessionExpired).
		Error
}
