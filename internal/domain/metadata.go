package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

const (
	MaxMetadataKeys  = 32
	MaxMetadataBytes = 8 << 10
)

var (
	ErrMetadataTooManyKeys = errors.New("metadata has too many keys")
	ErrMetadataTooLarge    = errors.New("metadata is too large")
	ErrMetadataInvalidKey  = errors.New("metadata key is invalid")

	metadataKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]{0,63}$`)
)

// Metadata is an auxiliary key/value bag attached to profiles and analytics events.
type Metadata map[string]any

func (m Metadata) Validate() error {
	if len(m) > MaxMetadataKeys {
		return ErrMetadataTooManyKeys
	}
	for k := range m {
		if !metadataKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: %q", ErrMetadataInvalidKey, k)
		}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if len(raw) > MaxMetadataBytes {
		return ErrMetadataTooLarge
	}
	return nil
}
