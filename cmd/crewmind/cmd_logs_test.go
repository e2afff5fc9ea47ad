package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"crewmind/pkg/eventlog"
	"crewmind/pkg/protocol"
)

// seedJournal writes a small session into dir's default journal.
func seedJournal(t *testing.T, dir string) *eventlog.Journal {
	t.Helper()
	j, err := eventlog.Open(eventlog.DefaultPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()
	_ = j.Log(ctx, "connect", "dispatcher", "", "s1", "127.0.0.1:5555")
	_ = j.Log(ctx, "action", "Red", "Red", "s1", `{"type":"move","details":"Admin"}`)
	_ = j.Log(ctx, "action", "Blue", "Blue", "s1", `{"type":"task","details":"Storage"}`)
	_ = j.Log(ctx, "chat", "Blue", "Blue", "s1", "I was in Storage.")
	_ = j.StartMeeting(ctx, "m1", protocol.Event{Type: protocol.EventBodyFound, Time: 3}, "Red", []string{"Red", "Blue"})
	_ = j.FinishMeeting(ctx, "m1", "Blue", map[string]int{"Blue": 2})
	return j
}

func TestLogs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	seedJournal(t, dir)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"all", []string{"logs"}, []string{"connect", "I was in Storage."}, nil},
		{"agent", []string{"logs", "Blue"}, []string{"Storage"}, []string{"Admin", "connect"}},
		{"type", []string{"logs", "--type", "action"}, []string{"Admin", "Storage"}, []string{"connect"}},
		{"tail", []string{"logs", "--tail", "1"}, []string{"I was in Storage."}, []string{"connect"}},
		{"meetings", []string{"logs", "--meetings"}, []string{"resolved", "outcome Blue"}, nil},
	}
	for _, tc := range tests {
		out, err := runCmd(t, append(tc.args, "--dir", dir)...)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		for _, w := range tc.want {
			if !strings.Contains(out, w) {
				t.Errorf("%s: output missing %q:\n%s", tc.name, w, out)
			}
		}
		for _, w := range tc.notWant {
			if strings.Contains(out, w) {
				t.Errorf("%s: output should not contain %q:\n%s", tc.name, w, out)
			}
		}
	}
}

func TestLogsMissingJournal(t *testing.T) {
	t.Parallel()
	if _, err := runCmd(t, "logs", "--dir", t.TempDir()); err == nil {
		t.Fatal("expected an error without a journal")
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollowLogs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j := seedJournal(t, dir)

	r, err := eventlog.NewReader(eventlog.DefaultPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- followLogs(ctx, r, out, eventlog.QueryOpts{Limit: 2}, filepath.Dir(eventlog.DefaultPath(dir)))
	}()

	_ = j.Log(context.Background(), "vote", "Red", "Red", "s1", "Blue")
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "vote") {
		if time.Now().After(deadline) {
			t.Fatalf("followed output never showed the new row:\n%s", out.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if strings.Count(out.String(), "vote") != 1 {
		t.Errorf("new row printed more than once:\n%s", out.String())
	}
}
