package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func TestNilStorePassesThrough(t *testing.T) {
	var s *Store
	if s.Enabled() {
		t.Fatalf("nil store should report disabled")
	}
	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("payload"))
	got, err := s.OffloadDataURI(context.Background(), "ABC123", uri)
	if err != nil {
		t.Fatalf("OffloadDataURI: %v", err)
	}
	if got != uri {
		t.Fatalf("nil store must return the data URI unchanged")
	}
}

func TestNewDisabledWithoutEndpoint(t *testing.T) {
	s, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil store for empty endpoint")
	}
}

func TestSplitDataURI(t *testing.T) {
	contentType, payload, err := splitDataURI("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("abc")))
	if err != nil {
		t.Fatalf("splitDataURI: %v", err)
	}
	if contentType != "image/png" || payload != "abc" {
		t.Fatalf("got (%q, %q)", contentType, payload)
	}

	for _, bad := range []string{"", "https://example.com/x.png", "data:image/png;base64", "data:image/png,plain", "data:image/png;base64,!!!"} {
		if _, _, err := splitDataURI(bad); !errors.Is(err, ErrNotDataURI) {
			t.Errorf("splitDataURI(%q) = %v, want ErrNotDataURI", bad, err)
		}
	}
}
