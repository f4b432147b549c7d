package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"echoframe/pkg/utils"
)

const (
	UsernameMinLen = 2
	UsernameMaxLen = 50
	VideoIDMaxLen  = 128
)

// MessageIDMaxLen bounds client generated chat message ids.
const MessageIDMaxLen = 64

// VideoIDRegex matches catalog video identifiers.
var VideoIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

var MessageIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NormalizeUsername trims and strips control characters, then checks the
// length bounds in runes. It returns the normalized name.
func NormalizeUsername(username string) (string, error) {
	name := utils.SanitizeString(username)
	if err := ValidateStringLength(name, UsernameMinLen, UsernameMaxLen, "username"); err != nil {
		return "", err
	}
	return name, nil
}

// NormalizeMessage trims a free text message and enforces 1..maxLen runes.
func NormalizeMessage(message string, maxLen int) (string, error) {
	msg := utils.SanitizeString(message)
	if msg == "" {
		return "", fmt.Errorf("message is required")
	}
	if err := ValidateStringLength(msg, 1, maxLen, "message"); err != nil {
		return "", err
	}
	return msg, nil
}

func ValidateVideoID(videoID string) error {
	if videoID == "" {
		return fmt.Errorf("video id is required")
	}
	if len(videoID) > VideoIDMaxLen {
		return fmt.Errorf("video id is too long (max %d characters)", VideoIDMaxLen)
	}
	if !VideoIDRegex.MatchString(videoID) {
		return fmt.Errorf("invalid video id format")
	}
	return nil
}

// ValidatePosition checks a playback position in seconds.
func ValidatePosition(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("position must be a finite number")
	}
	if seconds < 0 {
		return fmt.Errorf("position must be >= 0")
	}
	return nil
}

// ValidateRewind checks a rewind amount in seconds against (0, max].
func ValidateRewind(seconds, max float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("seconds must be a finite number")
	}
	if seconds <= 0 {
		return fmt.Errorf("seconds must be > 0")
	}
	if seconds > max {
		return fmt.Errorf("seconds must be <= %g", max)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateMessageID checks a client generated chat message id. An empty
// id is valid and means the server assigns one.
func ValidateMessageID(id string) error {
	if id == "" {
		return nil
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("message id must not contain surrounding whitespace")
	}
	if len(id) > MessageIDMaxLen {
		return fmt.Errorf("message id is too long (max %d characters)", MessageIDMaxLen)
	}
	if !MessageIDRegex.MatchString(id) {
		return fmt.Errorf("invalid message id format")
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
