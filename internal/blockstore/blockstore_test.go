// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

package blockstore

import (
	"crypto/sha256"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), 128)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello, chunk")
	h := sha256.Sum256(data)

	if s.Has(h) {
		t.Fatalf("unexpected hit before Put")
	}
	if err := s.Put(h, data); err != nil {
		t.Fatal(err)
	}
	if !s.Has(h) {
		t.Fatalf("expected hit after Put")
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestPutIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), 128)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("idempotent")
	h := sha256.Sum256(data)
	if err := s.Put(h, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(h, data); err != nil {
		t.Fatalf("second put of same content should be a no-op, got %v", err)
	}
}

func TestPutHashMismatch(t *testing.T) {
	s, err := Open(t.TempDir(), 128)
	if err != nil {
		t.Fatal(err)
	}
	var wrongHash [sha256.Size]byte
	if err := s.Put(wrongHash, []byte("not matching")); err != ErrHashMismatch {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s, err := Open(t.TempDir(), 128)
	if err != nil {
		t.Fatal(err)
	}
	var h [sha256.Size]byte
	if _, err := s.Get(h); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasMany(t *testing.T) {
	s, err := Open(t.TempDir(), 128)
	if err != nil {
		t.Fatal(err)
	}
	present := sha256.Sum256([]byte("present"))
	absent := sha256.Sum256([]byte("absent"))
	if err := s.Put(present, []byte("present")); err != nil {
		t.Fatal(err)
	}

	result := s.HasMany([][sha256.Size]byte{present, absent})
	if !result[present] {
		t.Fatalf("expected present hash to be reported as present")
	}
	if result[absent] {
		t.Fatalf("expected absent hash to be reported as absent")
	}
}
