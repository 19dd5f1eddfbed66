// Package share шифрует переписку паролем и передаёт её другому экземпляру напрямую.
package share

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/mmeshcher/accessgate/internal/apperr"
	"github.com/mmeshcher/accessgate/internal/model"
)

const (
	envelopeVersion = 1
	kdfName         = "argon2id"
	saltSize        = 16
	keySize         = 32

	// пределы параметров чужого конверта, немного выше DefaultKDF
	maxKDFTime    = 4
	maxKDFMemory  = 64 * 1024
	maxKDFThreads = 4
)

// KDFParams описывает параметры argon2id, с которыми получен ключ конверта.
type KDFParams struct {
	Name    string `json:"name"`
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultKDF параметры получения ключа для новых конвертов.
var DefaultKDF = KDFParams{Name: kdfName, Time: 2, Memory: 19 * 1024, Threads: 1}

// Envelope самодостаточный зашифрованный снимок переписки.
// Расшифровать его можно только зная пароль.
type Envelope struct {
	Version    int       `json:"version"`
	ID         string    `json:"id"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	IV         []byte    `json:"iv"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
}

// Encrypt шифрует переписку паролем. Соль и вектор генерируются заново при каждом вызове.
func Encrypt(transcript []model.Message, password string) (*Envelope, error) {
	return encrypt(transcript, password, DefaultKDF, rand.Reader, time.Now)
}

func encrypt(transcript []model.Message, password string, params KDFParams, random io.Reader, now func() time.Time) (*Envelope, error) {
	if password == "" {
		return nil, apperr.Newf(apperr.EncryptionFailed, "Please enter a password")
	}
	if len(transcript) == 0 {
		return nil, apperr.Newf(apperr.EncryptionFailed, "Nothing to share")
	}

	plaintext, err := json.Marshal(transcript)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, fmt.Errorf("encode transcript: %w", err))
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, fmt.Errorf("generate salt: %w", err))
	}

	gcm, err := newGCM(password, salt, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, apperr.Wrap(apperr.EncryptionFailed, fmt.Errorf("generate iv: %w", err))
	}

	env := &Envelope{
		Version:   envelopeVersion,
		ID:        uuid.NewString(),
		KDF:       params,
		Salt:      salt,
		IV:        iv,
		CreatedAt: now().UTC(),
	}
	env.Ciphertext = gcm.Seal(nil, iv, plaintext, env.additionalData())

	return env, nil
}

// Decrypt восстанавливает переписку из конверта.
func Decrypt(env *Envelope, password string) ([]model.Message, error) {
	if env == nil {
		return nil, apperr.Newf(apperr.DecryptionFailed, "No conversation to decrypt")
	}
	if env.Version != envelopeVersion || env.KDF.Name != kdfName {
		return nil, apperr.Newf(apperr.DecryptionFailed, "Unsupported envelope format")
	}
	if len(env.Salt) != saltSize {
		return nil, apperr.Newf(apperr.DecryptionFailed, "Malformed envelope")
	}

	gcm, err := newGCM(password, env.Salt, env.KDF)
	if err != nil {
		return nil, apperr.Wrap(apperr.DecryptionFailed, err)
	}
	if len(env.IV) != gcm.NonceSize() {
		return nil, apperr.Newf(apperr.DecryptionFailed, "Malformed envelope")
	}

	plaintext, err := gcm.Open(nil, env.IV, env.Ciphertext, env.additionalData())
	if err != nil {
		return nil, apperr.Newf(apperr.DecryptionFailed, "Wrong password or corrupted conversation")
	}

	var transcript []model.Message
	if err := json.Unmarshal(plaintext, &transcript); err != nil {
		return nil, apperr.Wrap(apperr.DecryptionFailed, fmt.Errorf("decode transcript: %w", err))
	}

	return transcript, nil
}

// идентификатор и версия привязаны к шифротексту, подмена любого из них ломает проверку
func (e *Envelope) additionalData() []byte {
	return []byte(fmt.Sprintf("v%d:%s", e.Version, e.ID))
}

func newGCM(password string, salt []byte, params KDFParams) (cipher.AEAD, error) {
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		return nil, errors.New("invalid kdf parameters")
	}
	if params.Memory > maxKDFMemory || params.Time > maxKDFTime || params.Threads > maxKDFThreads {
		return nil, errors.New("kdf parameters exceed limits")
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, keySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return gcm, nil
}
