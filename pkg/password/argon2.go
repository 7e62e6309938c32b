// Package password derives and verifies argon2id password digests.
//
// Digests are computed over the plaintext password concatenated with the
// account's stored salt, and encoded in PHC form so the cost parameters
// travel with each digest and can be raised without invalidating old ones.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTime        uint32 = 1
	minThreads     uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
	phcSectionSize        = 6
)

var (
	// ErrInvalidDigest is returned when a stored digest cannot be parsed.
	ErrInvalidDigest = errors.New("invalid password digest")
	// ErrEmptySalt is returned when hashing is attempted without a salt.
	ErrEmptySalt = errors.New("salt must not be empty")
)

// Config holds the argon2id cost parameters.
type Config struct {
	Time       uint32
	MemoryKB   uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

// DefaultConfig returns time=3, memory=64 MiB, threads=1.
func DefaultConfig() Config {
	return Config{
		Time:       3,
		MemoryKB:   64 * 1024,
		Threads:    1,
		KeyLength:  32,
		SaltLength: 16,
	}
}

// Hasher derives salted argon2id digests. It is immutable and safe for
// concurrent use.
type Hasher struct {
	config Config
}

type parsedDigest struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// NewSalt returns SaltLength fresh random bytes, hex encoded.
func (h *Hasher) NewSalt() (string, error) {
	buf := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Digest computes argon2id(password ‖ salt) and returns it in PHC form.
func (h *Hasher) Digest(password, salt string) (string, error) {
	if salt == "" {
		return "", ErrEmptySalt
	}

	key := argon2.IDKey(
		[]byte(password+salt),
		[]byte(salt),
		h.config.Time,
		h.config.MemoryKB,
		h.config.Threads,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.MemoryKB,
		h.config.Time,
		h.config.Threads,
		base64.RawStdEncoding.EncodeToString([]byte(salt)),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest of password ‖ salt with the parameters
// recorded in encoded and compares in constant time.
func (h *Hasher) Verify(password, salt, encoded string) (bool, error) {
	parsed, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare(parsed.salt, []byte(salt)) != 1 {
		return false, nil
	}

	computed := argon2.IDKey(
		[]byte(password+salt),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.threads,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

func parseDigest(encoded string) (*parsedDigest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != phcSectionSize || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrInvalidDigest
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, ErrInvalidDigest
	}

	var parsed parsedDigest
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrInvalidDigest
		}
		value, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return nil, ErrInvalidDigest
		}
		switch kv[0] {
		case "m":
			parsed.memory = uint32(value)
		case "t":
			parsed.time = uint32(value)
		case "p":
			if value > 255 {
				return nil, ErrInvalidDigest
			}
			parsed.threads = uint8(value)
		default:
			return nil, ErrInvalidDigest
		}
	}
	if parsed.memory < minMemoryKB || parsed.time < minTime || parsed.threads < minThreads {
		return nil, ErrInvalidDigest
	}

	if parsed.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(parsed.salt) == 0 {
		return nil, ErrInvalidDigest
	}
	if parsed.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(parsed.key) == 0 {
		return nil, ErrInvalidDigest
	}

	return &parsed, nil
}

func validateConfig(cfg Config) error {
	if cfg.MemoryKB < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTime {
		return errors.New("password time must be >= 1")
	}
	if cfg.Threads < minThreads {
		return errors.New("password threads must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
