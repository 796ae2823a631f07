package usecase

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"activation-service/internal/config"
	"activation-service/internal/domain"
)

const (
	// ChecksumSeparator splits the checksum segment from the code body.
	ChecksumSeparator = "-"
	checksumLength    = 4
)

// GenerateCode draws length characters uniformly from alphabet using crypto/rand
// and returns prefix+body+suffix, followed by "-"+checksum when withChecksum is set.
// An empty alphabet selects uppercase letters and digits.
//
// Without a checksum, prefix and suffix must not contain the separator, or
// ValidateChecksum would read the text after it as a tag.
func GenerateCode(length int, prefix, suffix string, withChecksum bool, alphabet string) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("%w: code length must be at least 1", domain.ErrInvalidArgument)
	}
	if !withChecksum && strings.Contains(prefix+suffix, ChecksumSeparator) {
		return "", fmt.Errorf("%w: prefix and suffix must not contain %q without a checksum", domain.ErrInvalidArgument, ChecksumSeparator)
	}
	if alphabet == "" {
		alphabet = config.DefaultAlphabet
	}
	if err := checkAlphabet(alphabet); err != nil {
		return "", err
	}

	body, err := randomString(length, alphabet)
	if err != nil {
		return "", err
	}

	full := prefix + body + suffix
	if !withChecksum {
		return full, nil
	}
	sum, err := Checksum(full)
	if err != nil {
		return "", err
	}
	return full + ChecksumSeparator + sum, nil
}

// Checksum returns the first four hex digits of the MD5 of body. It is an
// integrity tag for typos, not a security boundary.
func Checksum(body string) (string, error) {
	if body == "" {
		return "", fmt.Errorf("%w: checksum body is empty", domain.ErrInvalidArgument)
	}
	sum := md5.Sum([]byte(body))
	return hex.EncodeToString(sum[:])[:checksumLength], nil
}

// ValidateChecksum splits fullCode on its last separator and recomputes the tag.
// A code without a separator carries no checksum and passes.
func ValidateChecksum(fullCode string) bool {
	i := strings.LastIndex(fullCode, ChecksumSeparator)
	if i < 0 {
		return true
	}
	want, err := Checksum(fullCode[:i])
	if err != nil {
		return false
	}
	return want == fullCode[i+len(ChecksumSeparator):]
}

func checkAlphabet(alphabet string) error {
	if len(alphabet) > 256 {
		return fmt.Errorf("%w: alphabet has more than 256 symbols", domain.ErrInvalidArgument)
	}
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] >= 0x80 {
			return fmt.Errorf("%w: alphabet must be ASCII", domain.ErrInvalidArgument)
		}
	}
	if strings.Contains(alphabet, ChecksumSeparator) {
		return fmt.Errorf("%w: alphabet must not contain %q", domain.ErrInvalidArgument, ChecksumSeparator)
	}
	return nil
}

// randomString maps random bytes onto alphabet, rejecting bytes past the
// largest multiple of len(alphabet) so every symbol is equally likely.
func randomString(length int, alphabet string) (string, error) {
	n := len(alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, length)
	buffer := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
			return "", err
		}
		for _, b := range buffer {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
