// Package contacts resolves sender addresses to display names from a
// local vCard address book.
package contacts

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/emersion/go-vcard"
)

// Store is an in-memory address→name index built from a vCard file.
type Store struct {
	logger    *slog.Logger
	byAddress map[string]string
}

// Load reads a vCard file and indexes every TEL and EMAIL property
// under the card's formatted name. Cards without a name are skipped.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vcard file: %w", err)
	}
	defer f.Close()

	s := &Store{
		logger:    logger,
		byAddress: make(map[string]string),
	}

	dec := vcard.NewDecoder(f)
	cards := 0
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode vcard: %w", err)
		}

		name := card.PreferredValue(vcard.FieldFormattedName)
		if name == "" {
			continue
		}
		cards++

		for _, tel := range card.Values(vcard.FieldTelephone) {
			if key := normalizePhone(tel); key != "" {
				s.byAddress[key] = name
			}
		}
		for _, email := range card.Values(vcard.FieldEmail) {
			if key := strings.ToLower(strings.TrimSpace(email)); key != "" {
				s.byAddress[key] = name
			}
		}
	}

	logger.Info("contacts loaded",
		"path", path,
		"cards", cards,
		"addresses", len(s.byAddress),
	)
	return s, nil
}

// ResolveAddress returns the contact name for a phone number or email
// address. Returns ("", false) when no matching contact is found.
func (s *Store) ResolveAddress(address string) (string, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", false
	}

	if strings.Contains(address, "@") {
		name, ok := s.byAddress[strings.ToLower(address)]
		return name, ok
	}

	key := normalizePhone(address)
	if name, ok := s.byAddress[key]; ok {
		return name, true
	}

	// Fall back to a national-number match: the address book may
	// store numbers without a country prefix (or vice versa).
	if len(key) > 10 {
		if name, ok := s.byAddress[key[len(key)-10:]]; ok {
			return name, true
		}
	}
	for stored, name := range s.byAddress {
		if len(stored) >= 10 && len(key) >= 10 && stored[len(stored)-10:] == key[len(key)-10:] {
			return name, true
		}
	}
	return "", false
}

// normalizePhone strips everything but digits.
func normalizePhone(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
