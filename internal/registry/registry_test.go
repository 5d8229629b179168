package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"js8bridge/internal/storage"
	logx "js8bridge/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	subs  map[string]storage.Subscriber
	saves int
	fail  bool
}

func (m *memStore) LoadSubscribers(ctx context.Context) (map[string]storage.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("load failed")
	}
	out := make(map[string]storage.Subscriber, len(m.subs))
	for k, v := range m.subs {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveSubscribers(ctx context.Context, subs map[string]storage.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("save failed")
	}
	m.subs = subs
	m.saves++
	return nil
}

func (m *memStore) AppendMessage(ctx context.Context, rec storage.MessageRecord) error { return nil }
func (m *memStore) RecentMessages(ctx context.Context, limit int) ([]storage.MessageRecord, error) {
	return nil, nil
}
func (m *memStore) RecordUserCount(ctx context.Context, date string, count int) error { return nil }
func (m *memStore) UserCountOn(ctx context.Context, date string) (int, bool, error) {
	return 0, false, nil
}
func (m *memStore) AvgUserCountForMonth(ctx context.Context, month string) (float64, bool, error) {
	return 0, false, nil
}
func (m *memStore) Close() error { return nil }

type ackSink struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func newAckSink() *ackSink { return &ackSink{msgs: map[string][]string{}} }

func (a *ackSink) SendText(ctx context.Context, to string, text string) error {
	a.mu.Lock()
	a.msgs[to] = append(a.msgs[to], text)
	a.mu.Unlock()
	return nil
}

func (a *ackSink) last(to string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.msgs[to]) == 0 {
		return ""
	}
	return a.msgs[to][len(a.msgs[to])-1]
}

func testCatalogs() Catalogs {
	return Catalogs{
		Groups:        []string{"TEAM", "WX"},
		UrgentGroups:  []string{"EMERGENCY"},
		DefaultGroups: []string{"TEAM"},
	}
}

func TestJoinSeedsDefaultsAndPersists(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	acks := newAckSink()
	r := New(testCatalogs(), store, acks, logx.Nop())

	r.Join(ctx, "100")
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
	if got := r.GroupRecipients("TEAM"); !reflect.DeepEqual(got, []string{"100"}) {
		t.Fatalf("TEAM recipients = %v", got)
	}
	want := "You have been added to the JS8Call message group and the following default groups: TEAM. You will receive messages when they are available."
	if got := acks.last("100"); got != want {
		t.Fatalf("ack = %q, want %q", got, want)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}

	// repeat join is an ack-only no-op
	r.Join(ctx, "100")
	if store.saves != 1 {
		t.Fatalf("saves after repeat = %d, want 1", store.saves)
	}
	if got := acks.last("100"); got != "You are already in the JS8Call message group." {
		t.Fatalf("repeat ack = %q", got)
	}
}

func TestLeaveClearsAllState(t *testing.T) {
	ctx := context.Background()
	acks := newAckSink()
	r := New(testCatalogs(), &memStore{}, acks, logx.Nop())

	r.Join(ctx, "100")
	r.JoinGroups(ctx, "100", []string{"WX"})
	r.Mute(ctx, "100", []string{"WX"})

	r.Leave(ctx, "100")
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
	if got := r.DirectRecipients(); len(got) != 0 {
		t.Fatalf("direct recipients = %v", got)
	}

	// rejoining starts clean: no stale WX membership or mute
	r.Join(ctx, "100")
	if got := r.GroupRecipients("WX"); len(got) != 0 {
		t.Fatalf("WX recipients after rejoin = %v", got)
	}

	r.Leave(ctx, "999")
	if got := acks.last("999"); got != "You are not in the JS8Call message group." {
		t.Fatalf("ack = %q", got)
	}
}

func TestJoinGroupsRequiresMembership(t *testing.T) {
	ctx := context.Background()
	acks := newAckSink()
	r := New(testCatalogs(), &memStore{}, acks, logx.Nop())

	r.JoinGroups(ctx, "100", []string{"WX"})
	if got := acks.last("100"); got != "You need to join the JS8Call message group first. Use /add command." {
		t.Fatalf("ack = %q", got)
	}
}

func TestJoinGroupsIgnoresUnknownNames(t *testing.T) {
	ctx := context.Background()
	acks := newAckSink()
	r := New(testCatalogs(), &memStore{}, acks, logx.Nop())
	r.Join(ctx, "100")

	r.JoinGroups(ctx, "100", []string{"WX", "NOPE"})
	if got := acks.last("100"); got != "You have been added to the following groups: WX" {
		t.Fatalf("ack = %q", got)
	}

	r.JoinGroups(ctx, "100", []string{"NOPE"})
	if got := acks.last("100"); got != "No matching groups. Use /groups to list available groups." {
		t.Fatalf("ack = %q", got)
	}
}

func TestMuteRemovesFromRecipients(t *testing.T) {
	ctx := context.Background()
	r := New(testCatalogs(), &memStore{}, newAckSink(), logx.Nop())
	r.Join(ctx, "100")
	r.Join(ctx, "200")

	r.Mute(ctx, "100", []string{"TEAM"})
	if got := r.GroupRecipients("TEAM"); !reflect.DeepEqual(got, []string{"200"}) {
		t.Fatalf("TEAM recipients = %v, want [200]", got)
	}
	// direct fan-out ignores mutes
	if got := r.DirectRecipients(); !reflect.DeepEqual(got, []string{"100", "200"}) {
		t.Fatalf("direct recipients = %v", got)
	}

	r.Unmute(ctx, "100", []string{"TEAM"})
	if got := r.GroupRecipients("TEAM"); !reflect.DeepEqual(got, []string{"100", "200"}) {
		t.Fatalf("TEAM recipients after unmute = %v", got)
	}
}

func TestMuteAllExpandsCatalogs(t *testing.T) {
	ctx := context.Background()
	acks := newAckSink()
	r := New(testCatalogs(), &memStore{}, acks, logx.Nop())
	r.Join(ctx, "100")
	r.JoinGroups(ctx, "100", []string{"WX", "EMERGENCY"})

	r.Mute(ctx, "100", []string{"ALL"})
	for _, g := range []string{"TEAM", "WX", "EMERGENCY"} {
		if got := r.GroupRecipients(g); len(got) != 0 {
			t.Fatalf("%s recipients after mute ALL = %v", g, got)
		}
	}
	if got := acks.last("100"); got != "You have muted the following groups: TEAM, WX, EMERGENCY" {
		t.Fatalf("ack = %q", got)
	}
}

func TestMuteWithoutMembershipAllowed(t *testing.T) {
	ctx := context.Background()
	r := New(testCatalogs(), &memStore{}, newAckSink(), logx.Nop())
	r.Join(ctx, "100")

	// Not a WX member; the mute still sticks and survives a later join.
	r.Mute(ctx, "100", []string{"WX"})
	r.JoinGroups(ctx, "100", []string{"WX"})
	if got := r.GroupRecipients("WX"); len(got) != 0 {
		t.Fatalf("WX recipients = %v, want none", got)
	}
}

func TestGroupStatuses(t *testing.T) {
	ctx := context.Background()
	r := New(testCatalogs(), &memStore{}, newAckSink(), logx.Nop())
	r.Join(ctx, "100")
	r.Mute(ctx, "100", []string{"TEAM"})

	got := r.GroupStatuses("100")
	want := []GroupStatus{
		{Name: "TEAM", Subscribed: true, Muted: true},
		{Name: "WX"},
		{Name: "EMERGENCY", Urgent: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %+v, want %+v", got, want)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	r := New(testCatalogs(), store, newAckSink(), logx.Nop())
	r.Join(ctx, "100")
	r.JoinGroups(ctx, "100", []string{"WX"})
	r.Mute(ctx, "100", []string{"WX"})
	snap := r.Snapshot()

	// A fresh registry loading the same store sees identical state.
	r2 := New(testCatalogs(), store, newAckSink(), logx.Nop())
	r2.Load(ctx)
	if got := r2.Snapshot(); !reflect.DeepEqual(got, snap) {
		t.Fatalf("reloaded snapshot = %+v, want %+v", got, snap)
	}
	if got := r2.GroupRecipients("TEAM"); !reflect.DeepEqual(got, []string{"100"}) {
		t.Fatalf("TEAM recipients after reload = %v", got)
	}
	if got := r2.GroupRecipients("WX"); len(got) != 0 {
		t.Fatalf("WX recipients after reload = %v (mute lost)", got)
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	ctx := context.Background()
	r := New(testCatalogs(), &memStore{fail: true}, newAckSink(), logx.Nop())
	r.Load(ctx)
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}

	// mutations still work; the failed save is logged, memory stays authoritative
	r.Join(ctx, "100")
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}
