package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatal("nil error has a kind")
	}
	if KindOf(errors.New("boom")) != ErrorKindInternal {
		t.Fatal("plain error is not internal")
	}
	wrapped := fmt.Errorf("worker: %w", WrapError(ErrorKindTimeout, errors.New("deadline")))
	if KindOf(wrapped) != ErrorKindTimeout {
		t.Fatalf("KindOf(wrapped) = %q", KindOf(wrapped))
	}
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := WrapError(ErrorKindStorageFailed, errors.New("s3: AccessDenied bucket=secret"))
	if got := PublicMessage(err); got != ErrorKindStorageFailed.PublicMessage() {
		t.Fatalf("PublicMessage() = %q", got)
	}
	if got := PublicMessage(errors.New("pq: relation missing")); got != "internal error" {
		t.Fatalf("PublicMessage() = %q", got)
	}
}

func TestMaxAttempts(t *testing.T) {
	want := map[ErrorKind]int{
		ErrorKindUpstreamUnavailable: 3,
		ErrorKindStorageFailed:       3,
		ErrorKindTimeout:             2,
		ErrorKindUpstreamRejected:    0,
		ErrorKindInternal:            0,
	}
	for kind, n := range want {
		if got := kind.MaxAttempts(); got != n {
			t.Fatalf("%s.MaxAttempts() = %d, want %d", kind, got, n)
		}
	}
}

func TestDenyListMatchesWholeFoldedWords(t *testing.T) {
	d := NewDenyList("Interdit")
	if !d.Match("c'est INTERDIT") {
		t.Fatal("extra term not matched")
	}
	if !d.Match("une Collégienne") {
		t.Fatal("accented term not matched")
	}
	if d.Match("adorable tenue") {
		t.Fatal("substring matched as a word")
	}
	var nilList *DenyList
	if nilList.Match("minor") {
		t.Fatal("nil list matched")
	}
}

func TestDenyListMatchesPhrasesAsConsecutiveWords(t *testing.T) {
	d := NewDenyList("jeune fille", "Jeune  Fille", "")
	if got, want := d.Len(), len(defaultDenyTerms)+1; got != want {
		t.Fatalf("Len = %d, want %d", got, want)
	}
	for _, s := range []string{"une jeune fille", "JEUNE-FILLE souriante"} {
		if !d.Match(s) {
			t.Fatalf("Match(%q) = false", s)
		}
	}
	for _, s := range []string{"ma fille adore la plage", "jeune et belle", "fille jeune"} {
		if d.Match(s) {
			t.Fatalf("Match(%q) = true, phrase words matched alone", s)
		}
	}
}
