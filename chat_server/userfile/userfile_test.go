package userfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeUsers(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write users file: %v", err)
	}
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"alice:secret",
		"  bob  :  hunter2  ",
		"carol:pa:ss:word",
		"no separator here",
		"",
		"alice:second-entry-ignored",
	}, "\n")

	users, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := map[string]string{
		"alice": "secret",
		"bob":   "hunter2",
		"carol": "pa:ss:word",
	}
	if len(users) != len(want) {
		t.Fatalf("got %d users (%v), want %d", len(users), users, len(want))
	}
	for name, pw := range want {
		if users[name] != pw {
			t.Errorf("users[%q] = %q, want %q", name, users[name], pw)
		}
	}
}

func TestOpenAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	writeUsers(t, path, "alice:secret\nbob:builder\n")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	pw, ok, err := s.Lookup(context.Background(), "bob")
	if err != nil || !ok || pw != "builder" {
		t.Errorf("Lookup(bob) = (%q, %v, %v)", pw, ok, err)
	}
	if _, ok, _ := s.Lookup(context.Background(), "mallory"); ok {
		t.Error("Lookup(mallory) should not be found")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.txt"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRegister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	writeUsers(t, path, "alice:secret\n")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Register(ctx, "dave", "pw"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Register(ctx, "alice", "other"); err == nil {
		t.Error("registering an existing user should fail")
	}
	if err := s.Register(ctx, "bad:name", "pw"); err == nil {
		t.Error("a colon in the username should be rejected")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "dave:pw\n") {
		t.Errorf("file content = %q, want appended record", data)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if pw, ok, _ := reopened.Lookup(ctx, "dave"); !ok || pw != "pw" {
		t.Errorf("reopened Lookup(dave) = (%q, %v)", pw, ok)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	writeUsers(t, path, "alice:secret\n")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeUsers(t, path, "alice:secret\nerin:new-password\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pw, ok, _ := s.Lookup(context.Background(), "erin"); ok && pw == "new-password" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("store did not pick up the rewritten file")
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	writeUsers(t, path, "alice:secret\n")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
