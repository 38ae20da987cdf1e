package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// OperatorRegex validates operator names carried in control API tokens
	OperatorRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// StreamKeyRegex validates ingest stream keys
	StreamKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

const maxDeviceIDLength = 256

// ValidateDeviceID validates a device id from a selection request. Empty means
// the platform default and is accepted.
func ValidateDeviceID(id string) error {
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("device id is too long (max %d characters)", maxDeviceIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("device id contains invalid characters")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("device id contains control characters")
		}
	}
	return nil
}

// ValidateOperator validates the subject of an operator token
func ValidateOperator(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("operator is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("operator is too long (max 64 characters)")
	}
	if !OperatorRegex.MatchString(name) {
		return fmt.Errorf("operator contains invalid characters (only letters, numbers, ., _, - allowed)")
	}
	return nil
}

// ValidateStreamKey validates an ingest stream key
func ValidateStreamKey(key string) error {
	if key == "" {
		return fmt.Errorf("stream key is required")
	}
	if len(key) > 256 {
		return fmt.Errorf("stream key is too long (max 256 characters)")
	}
	if !StreamKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid stream key format")
	}
	return nil
}

// ValidateURL validates URL format against the allowed schemes
func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if len(schemes) > 0 {
		ok := false
		for _, s := range schemes {
			if u.Scheme == s {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("invalid URL scheme %q (must be one of %s)", u.Scheme, strings.Join(schemes, ", "))
		}
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateRelayURL validates the websocket relay base URL
func ValidateRelayURL(urlStr string) error {
	return ValidateURL(urlStr, "ws", "wss")
}

// ValidateIngestURL validates the RTMP(S) ingest URL
func ValidateIngestURL(urlStr string) error {
	return ValidateURL(urlStr, "rtmp", "rtmps")
}

// ValidatePlaybackURL validates the viewer link
func ValidatePlaybackURL(urlStr string) error {
	return ValidateURL(urlStr, "http", "https")
}
