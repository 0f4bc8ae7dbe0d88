package users

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectory_FindByPhoneNumber(t *testing.T) {
	d := NewMemoryDirectory(User{ID: 1, Name: "Office", PhoneNumber: "35586526"})

	u, err := d.FindByPhoneNumber(context.Background(), " 35586526 ")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("expected user 1, got %d", u.ID)
	}

	if _, err := d.FindByPhoneNumber(context.Background(), "+10000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
