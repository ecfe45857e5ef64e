package contacts

import (
	"os"
	"path/filepath"
	"testing"
)

const testVCards = `BEGIN:VCARD
VERSION:4.0
FN:Alice Example
TEL:+1 (555) 123-4567
EMAIL:alice@example.com
END:VCARD
BEGIN:VCARD
VERSION:4.0
FN:Bob Nobody
TEL:555-987-6543
END:VCARD
`

func loadTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.vcf")
	if err := os.WriteFile(path, []byte(testVCards), 0o600); err != nil {
		t.Fatalf("write vcards: %v", err)
	}
	s, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestResolvePhone(t *testing.T) {
	s := loadTestStore(t)

	name, ok := s.ResolveAddress("+15551234567")
	if !ok || name != "Alice Example" {
		t.Errorf("ResolveAddress(+15551234567) = %q, %v", name, ok)
	}
}

func TestResolvePhoneWithoutCountryCode(t *testing.T) {
	s := loadTestStore(t)

	// Stored as "+1 (555) 123-4567"; queried without the country code.
	name, ok := s.ResolveAddress("5551234567")
	if !ok || name != "Alice Example" {
		t.Errorf("ResolveAddress(5551234567) = %q, %v", name, ok)
	}
}

func TestResolveEmail(t *testing.T) {
	s := loadTestStore(t)

	name, ok := s.ResolveAddress("Alice@Example.com")
	if !ok || name != "Alice Example" {
		t.Errorf("ResolveAddress(email) = %q, %v", name, ok)
	}
}

func TestResolveUnknown(t *testing.T) {
	s := loadTestStore(t)

	if name, ok := s.ResolveAddress("+19990000000"); ok {
		t.Errorf("ResolveAddress(unknown) = %q, want miss", name)
	}
	if _, ok := s.ResolveAddress(""); ok {
		t.Error("ResolveAddress(empty) = hit, want miss")
	}
}
