package object

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
)

const maxFileNameLength = 255

// ErrInvalidName is returned for file names and ids that cannot be used in a key.
var ErrInvalidName = errors.New("invalid file name")

// UserKey is the hex sha256 of a user id. User ids never appear in keys in
// the clear.
func UserKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// CleanFileName flattens path separators, drops control characters and
// rejects traversal, empty and dot-only names.
func CleanFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if s == "" || s == "." {
		return "", ErrInvalidName
	}
	if len(s) > maxFileNameLength {
		s = strings.ToValidUTF8(s[:maxFileNameLength], "")
	}
	return s, nil
}

// DocumentKey namespaces a document's bytes under its owner.
func DocumentKey(userID, documentID string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(documentID) == "" {
		return "", fmt.Errorf("user id and document id are required")
	}
	docPart, err := CleanFileName(documentID)
	if err != nil {
		return "", fmt.Errorf("document id: %w", err)
	}
	return path.Join(UserKey(userID), docPart), nil
}
