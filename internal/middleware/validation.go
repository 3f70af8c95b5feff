package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/doutor-motors/expert-chat/internal/model"
)

const (
	maxContentBytes = 100000
	maxImageBytes   = 10 << 20
	maxCodes        = 20
)

var obdCodePattern = regexp.MustCompile(`^[PBCU][0-9A-F]{4}$`)

// ValidateMessageContent validates message content. Empty content is allowed
// only when an image is attached.
func ValidateMessageContent(content string, hasImage bool) error {
	if len(content) == 0 && !hasImage {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateImage validates an inline base64 image.
func ValidateImage(imageBase64 string) error {
	if len(imageBase64) > maxImageBytes {
		return errors.New("image exceeds maximum size")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateConversationID validates a persisted conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateDiagnosticCodes validates a selection of OBD-II codes.
func ValidateDiagnosticCodes(codes []model.DiagnosticCode) error {
	if len(codes) > maxCodes {
		return fmt.Errorf("at most %d diagnostic codes can be selected", maxCodes)
	}
	for _, c := range codes {
		if !obdCodePattern.MatchString(c.Code) {
			return fmt.Errorf("invalid diagnostic code %q", c.Code)
		}
		if c.Priority != "" && !c.Priority.Valid() {
			return fmt.Errorf("invalid priority %q for %s", c.Priority, c.Code)
		}
	}
	return nil
}
