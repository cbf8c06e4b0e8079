package tempid

import "testing"

func TestNewIsTempID(t *testing.T) {
	id := New()
	if !Is(id) {
		t.Errorf("Is(%q) = false, want true", id)
	}
}

func TestNewIsUnique(t *testing.T) {
	if New() == New() {
		t.Error("two temp ids collided")
	}
}

func TestIsRejectsServerIDs(t *testing.T) {
	for _, id := range []string{"", "42", "msg-abc", "TMP-upper"} {
		if Is(id) {
			t.Errorf("Is(%q) = true, want false", id)
		}
	}
}
