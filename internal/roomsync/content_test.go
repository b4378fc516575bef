package roomsync

import (
	"testing"
	"time"
)

func newTestContent() *contentSync {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return newContentSync(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	})
}

func TestContentUpsertAppendsThenReplaces(t *testing.T) {
	cs := newTestContent()

	if !cs.Upsert(Message{ID: "m1", SpeakerID: "a", Text: "hel"}) {
		t.Fatal("first upsert reported no change")
	}
	if !cs.Upsert(Message{ID: "m1", SpeakerID: "a", Text: "hello wor"}) {
		t.Fatal("interim update reported no change")
	}
	if !cs.Upsert(Message{ID: "m1", SpeakerID: "a", Text: "hello world", Final: true}) {
		t.Fatal("final update reported no change")
	}

	msgs := cs.Messages()
	if len(msgs) != 1 {
		t.Fatalf("message count: got %d, want 1", len(msgs))
	}
	if msgs[0].Text != "hello world" || !msgs[0].Final {
		t.Errorf("final message: got %+v", msgs[0])
	}
}

func TestContentUpsertKeepsPositionAndTimestamp(t *testing.T) {
	cs := newTestContent()
	cs.Upsert(Message{ID: "m1", Text: "first"})
	cs.Upsert(Message{ID: "m2", Text: "second"})

	orig := cs.Messages()[0].Timestamp
	cs.Upsert(Message{ID: "m1", Text: "first, updated"})

	msgs := cs.Messages()
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order changed on update: %q then %q", msgs[0].ID, msgs[1].ID)
	}
	if !msgs[0].Timestamp.Equal(orig) {
		t.Errorf("timestamp changed on update: %v -> %v", orig, msgs[0].Timestamp)
	}
}

func TestContentFinalBlocksLaterInterims(t *testing.T) {
	cs := newTestContent()
	cs.Upsert(Message{ID: "m1", Text: "done", Final: true})

	if cs.Upsert(Message{ID: "m1", Text: "stale interim"}) {
		t.Error("interim after final reported a change")
	}
	if got, _ := cs.Get("m1"); got.Text != "done" {
		t.Errorf("finalized text overwritten: got %q", got.Text)
	}

	// A duplicate final replays idempotently.
	if cs.Upsert(Message{ID: "m1", Text: "done", Final: true}) {
		t.Error("identical duplicate final reported a change")
	}
}

func TestContentUpsertPreservesLocalFlags(t *testing.T) {
	cs := newTestContent()
	cs.Upsert(Message{ID: "m1", Text: "orig", Final: true})
	cs.Dismiss("m1")
	cs.Edit("m1", "edited")

	cs.Upsert(Message{ID: "m1", Text: "from network", Final: true})
	got, _ := cs.Get("m1")
	if !got.Dismissed || !got.Edited {
		t.Errorf("network replay cleared local flags: %+v", got)
	}
}

func TestContentEditAndDismiss(t *testing.T) {
	cs := newTestContent()
	cs.Upsert(Message{ID: "m1", Text: "orig", Final: true})

	if !cs.Edit("m1", "fixed") {
		t.Fatal("Edit on existing message returned false")
	}
	got, _ := cs.Get("m1")
	if got.Text != "fixed" || !got.Edited {
		t.Errorf("after edit: %+v", got)
	}

	if cs.Edit("nope", "x") {
		t.Error("Edit on unknown ID returned true")
	}
	if !cs.Dismiss("m1") {
		t.Error("Dismiss on existing message returned false")
	}
	if cs.Dismiss("nope") {
		t.Error("Dismiss on unknown ID returned true")
	}
}

func TestContentClear(t *testing.T) {
	cs := newTestContent()
	cs.Upsert(Message{ID: "m1", Text: "a"})
	cs.Upsert(Message{ID: "m2", Text: "b"})
	cs.Clear()
	if cs.Len() != 0 {
		t.Errorf("length after clear: got %d, want 0", cs.Len())
	}
	// A cleared ID starts a fresh entry.
	cs.Upsert(Message{ID: "m1", Text: "new"})
	if got, _ := cs.Get("m1"); got.Text != "new" {
		t.Errorf("re-added message: got %q", got.Text)
	}
}

func TestContentCollapseDebounce(t *testing.T) {
	cs := newTestContent()
	p := &Participant{ID: "a"}

	cs.ApplyLive(p, "long running interim text")
	if !p.Expanded() {
		t.Fatal("live content not expanded")
	}

	cs.Collapse(p)
	if p.Expanded() {
		t.Error("collapsed content still expanded")
	}

	// Identical content stays collapsed.
	cs.ApplyLive(p, "long running interim text")
	if p.Expanded() {
		t.Error("unchanged content re-expanded after collapse")
	}

	// Different content re-expands automatically.
	cs.ApplyLive(p, "something new")
	if !p.Expanded() {
		t.Error("new content did not re-expand the view")
	}
}

func TestContentSetTexting(t *testing.T) {
	cs := newTestContent()
	p := &Participant{ID: "a"}
	if !cs.SetTexting(p, true) {
		t.Error("first SetTexting(true) reported no change")
	}
	if cs.SetTexting(p, true) {
		t.Error("repeated SetTexting(true) reported a change")
	}
	if !cs.SetTexting(p, false) {
		t.Error("SetTexting(false) reported no change")
	}
}
