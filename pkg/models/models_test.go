package models

import "testing"

func TestThreadKey(t *testing.T) {
	if got := ThreadKey("U1", "A1"); got != "U1_A1" {
		t.Fatalf("ThreadKey = %q", got)
	}
	// Same pair, same key, every time.
	if ThreadKey("U1", "A1") != ThreadKey("U1", "A1") {
		t.Fatal("thread key not deterministic")
	}
}

func TestMessageRole(t *testing.T) {
	th := Thread{ID: "U1_A1", UserID: "U1", AvatarID: "A1"}

	cases := []struct {
		author string
		want   Role
	}{
		{"", RoleSystem},
		{"A1", RoleAssistant},
		{"U1", RoleUser},
		{"someone-else", RoleUser},
	}
	for _, tc := range cases {
		m := Message{AuthorID: tc.author}
		if got := m.Role(th); got != tc.want {
			t.Fatalf("Role(author=%q) = %q, want %q", tc.author, got, tc.want)
		}
	}
}

func TestSeenByViewer(t *testing.T) {
	m := Message{SeenBy: []string{"U1", "U2"}}
	if !m.SeenByViewer("U1") || m.SeenByViewer("U3") {
		t.Fatalf("seen set misbehaved: %v", m.SeenBy)
	}
}

func TestSortMessages(t *testing.T) {
	msgs := []Message{
		{ID: "b", CreatedAt: 200},
		{ID: "c", CreatedAt: 100},
		{ID: "a", CreatedAt: 200},
	}
	SortMessages(msgs)
	// CreatedAt ascending, ID breaks the tie.
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("position %d = %q, want %q (%+v)", i, msgs[i].ID, id, msgs)
		}
	}
}

func TestSortThreads(t *testing.T) {
	threads := []Thread{
		{ID: "old", ModifiedAt: 100},
		{ID: "new", ModifiedAt: 300},
		{ID: "mid", ModifiedAt: 200},
	}
	SortThreads(threads)
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if threads[i].ID != id {
			t.Fatalf("position %d = %q, want %q", i, threads[i].ID, id)
		}
	}
}
