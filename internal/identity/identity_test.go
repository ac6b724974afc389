package identity

import (
	"regexp"
	"strings"
	"testing"
)

func TestShortIDLengthAndAlphabet(t *testing.T) {
	t.Parallel()
	id := ShortID(6)
	if len(id) != 6 {
		t.Fatalf("len = %d, want 6", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune(shortIDAlphabet, r) {
			t.Fatalf("unexpected rune %q in %q", r, id)
		}
	}
	if got := ShortID(0); len(got) != 6 {
		t.Fatalf("default length = %d, want 6", len(got))
	}
}

func TestRandomUsernameShape(t *testing.T) {
	t.Parallel()
	re := regexp.MustCompile(`^[A-Za-z]+_[A-Za-z]+$`)
	for i := 0; i < 50; i++ {
		name := RandomUsername()
		if !re.MatchString(name) {
			t.Fatalf("malformed username %q", name)
		}
	}
}

func TestRandomProfilePicURL(t *testing.T) {
	t.Parallel()
	re := regexp.MustCompile(`^https://cdn\.example/profilepic/pp([1-9]|1[0-9]|2[0-5])\.jpg$`)
	for i := 0; i < 50; i++ {
		url := RandomProfilePicURL("https://cdn.example/profilepic/")
		if !re.MatchString(url) {
			t.Fatalf("unexpected pic url %q", url)
		}
	}
}

func TestNewUserIDUnique(t *testing.T) {
	t.Parallel()
	a, b := NewUserID(), NewUserID()
	if a == b {
		t.Fatalf("ids collided: %q", a)
	}
	if len(a) != 36 {
		t.Fatalf("unexpected id shape %q", a)
	}
}
