package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"js8bridge/internal/storage"
	logx "js8bridge/pkg/logx"
)

// Sender is the delivery capability used for subscriber acknowledgements.
// transport.Adapter satisfies it.
type Sender interface {
	SendText(ctx context.Context, to string, text string) error
}

// Catalogs are the configured group namespaces. Ordinary and urgent groups
// are disjoint; catalog membership decides message framing only.
type Catalogs struct {
	Groups        []string
	UrgentGroups  []string
	DefaultGroups []string
}

// GroupStatus is one row of the /groups listing.
type GroupStatus struct {
	Name       string
	Urgent     bool
	Subscribed bool
	Muted      bool
}

// Registry is the single in-memory view of the distribution list and the
// per-user group/mute sets. Every mutation is applied under one lock and
// synchronously written through to the store; routing reads during fan-out
// go through the same lock, so recipient resolution never sees a half-applied
// mutation.
type Registry struct {
	mu     sync.RWMutex
	distro map[string]struct{}
	groups map[string]map[string]struct{}
	muted  map[string]map[string]struct{}
	cats   Catalogs

	store storage.Store
	send  Sender
	log   logx.Logger
}

func New(cats Catalogs, store storage.Store, send Sender, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		distro: map[string]struct{}{},
		groups: map[string]map[string]struct{}{},
		muted:  map[string]map[string]struct{}{},
		cats:   cats,
		store:  store,
		send:   send,
		log:    log,
	}
}

// Apply swaps the group catalogs at runtime (config reload).
// Existing membership records are kept; routing only consults the catalogs
// for classification and listing, so stale entries are inert.
func (r *Registry) Apply(cats Catalogs) {
	r.mu.Lock()
	r.cats = cats
	r.mu.Unlock()
}

// Load replaces in-memory state with the store snapshot.
// A load failure is logged and leaves the registry empty; the bridge starts
// rather than aborting.
func (r *Registry) Load(ctx context.Context) {
	subs, err := r.store.LoadSubscribers(ctx)
	if err != nil {
		r.log.Error("subscriber snapshot load failed; starting empty", logx.Err(err))
		return
	}
	r.mu.Lock()
	r.distro = make(map[string]struct{}, len(subs))
	r.groups = make(map[string]map[string]struct{}, len(subs))
	r.muted = make(map[string]map[string]struct{}, len(subs))
	for user, rec := range subs {
		r.distro[user] = struct{}{}
		r.groups[user] = toSet(rec.Groups)
		r.muted[user] = toSet(rec.MutedGroups)
	}
	n := len(r.distro)
	r.mu.Unlock()
	r.log.Info("subscribers loaded", logx.Int("count", n))
}

// Count returns the current distribution-list size.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.distro)
}

// DirectRecipients returns every opted-in user.
func (r *Registry) DirectRecipients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.distro))
	for u := range r.distro {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// GroupRecipients returns users who are opted in, members of group, and have
// not muted it. Resolution happens per dispatch; nothing is cached.
func (r *Registry) GroupRecipients(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.distro))
	for u := range r.distro {
		if _, member := r.groups[u][group]; !member {
			continue
		}
		if _, m := r.muted[u][group]; m {
			continue
		}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Join adds the user to the distribution list, seeding the default groups.
func (r *Registry) Join(ctx context.Context, user string) {
	r.mu.Lock()
	if _, ok := r.distro[user]; ok {
		r.mu.Unlock()
		r.ack(ctx, user, "You are already in the JS8Call message group.")
		return
	}
	r.distro[user] = struct{}{}
	defaults := append([]string(nil), r.cats.DefaultGroups...)
	if len(defaults) > 0 {
		set := r.groups[user]
		if set == nil {
			set = map[string]struct{}{}
			r.groups[user] = set
		}
		for _, g := range defaults {
			set[g] = struct{}{}
		}
	}
	r.saveLocked(ctx)
	r.mu.Unlock()

	msg := "You have been added to the JS8Call message group"
	if len(defaults) > 0 {
		msg += " and the following default groups: " + strings.Join(defaults, ", ")
	}
	msg += ". You will receive messages when they are available."
	r.ack(ctx, user, msg)
	r.log.Info("subscriber added", logx.String("user", user))
}

// Leave removes the user from the distribution list and all group/mute state.
func (r *Registry) Leave(ctx context.Context, user string) {
	r.mu.Lock()
	if _, ok := r.distro[user]; !ok {
		r.mu.Unlock()
		r.ack(ctx, user, "You are not in the JS8Call message group.")
		return
	}
	delete(r.distro, user)
	delete(r.groups, user)
	delete(r.muted, user)
	r.saveLocked(ctx)
	r.mu.Unlock()

	r.ack(ctx, user, "You have been removed from the JS8Call message group and all groups.")
	r.log.Info("subscriber removed", logx.String("user", user))
}

// JoinGroups adds the user to the named groups. Names not present in either
// catalog are silently ignored; the acknowledgement lists what was added.
func (r *Registry) JoinGroups(ctx context.Context, user string, names []string) {
	r.mu.Lock()
	if _, ok := r.distro[user]; !ok {
		r.mu.Unlock()
		r.ack(ctx, user, "You need to join the JS8Call message group first. Use /add command.")
		return
	}
	var added []string
	set := r.groups[user]
	if set == nil {
		set = map[string]struct{}{}
		r.groups[user] = set
	}
	for _, g := range names {
		if !r.knownLocked(g) {
			continue
		}
		set[g] = struct{}{}
		added = append(added, g)
	}
	if len(added) > 0 {
		r.saveLocked(ctx)
	}
	r.mu.Unlock()

	if len(added) == 0 {
		r.ack(ctx, user, "No matching groups. Use /groups to list available groups.")
		return
	}
	r.ack(ctx, user, "You have been added to the following groups: "+strings.Join(added, ", "))
	r.log.Info("groups joined", logx.String("user", user), logx.String("groups", strings.Join(added, ",")))
}

// LeaveGroup removes one group membership.
func (r *Registry) LeaveGroup(ctx context.Context, user, group string) {
	r.mu.Lock()
	_, in := r.distro[user]
	_, member := r.groups[user][group]
	if !in || !member {
		r.mu.Unlock()
		r.ack(ctx, user, "You are not in the group: "+group)
		return
	}
	delete(r.groups[user], group)
	r.saveLocked(ctx)
	r.mu.Unlock()

	r.ack(ctx, user, "You have been removed from the group: "+group)
	r.log.Info("group left", logx.String("user", user), logx.String("group", group))
}

// Mute records the named groups (or ALL) as muted for the user.
// Muting does not require membership; entries for unknown names are ignored.
func (r *Registry) Mute(ctx context.Context, user string, names []string) {
	r.setMuted(ctx, user, names, true)
}

// Unmute clears mute entries for the named groups (or ALL).
func (r *Registry) Unmute(ctx context.Context, user string, names []string) {
	r.setMuted(ctx, user, names, false)
}

func (r *Registry) setMuted(ctx context.Context, user string, names []string, mute bool) {
	r.mu.Lock()
	if _, ok := r.distro[user]; !ok {
		r.mu.Unlock()
		r.ack(ctx, user, "You need to join the JS8Call message group first. Use /add command.")
		return
	}
	if len(names) == 1 && strings.EqualFold(names[0], "ALL") {
		names = append(append([]string(nil), r.cats.Groups...), r.cats.UrgentGroups...)
	}
	var changed []string
	set := r.muted[user]
	if set == nil {
		set = map[string]struct{}{}
		r.muted[user] = set
	}
	for _, g := range names {
		if !r.knownLocked(g) {
			continue
		}
		if mute {
			set[g] = struct{}{}
		} else {
			delete(set, g)
		}
		changed = append(changed, g)
	}
	if len(changed) > 0 {
		r.saveLocked(ctx)
	}
	r.mu.Unlock()

	if len(changed) == 0 {
		r.ack(ctx, user, "No matching groups. Use /groups to list available groups.")
		return
	}
	verb := "muted"
	if !mute {
		verb = "unmuted"
	}
	r.ack(ctx, user, "You have "+verb+" the following groups: "+strings.Join(changed, ", "))
}

// GroupStatuses is a pure query: one row per catalog group with the user's
// subscription and mute state.
func (r *Registry) GroupStatuses(user string) []GroupStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]GroupStatus, 0, len(r.cats.Groups)+len(r.cats.UrgentGroups))
	appendCat := func(names []string, urgent bool) {
		for _, g := range names {
			_, sub := r.groups[user][g]
			_, m := r.muted[user][g]
			out = append(out, GroupStatus{Name: g, Urgent: urgent, Subscribed: sub, Muted: m})
		}
	}
	appendCat(r.cats.Groups, false)
	appendCat(r.cats.UrgentGroups, true)
	return out
}

// Snapshot returns a copy of the full subscription state.
func (r *Registry) Snapshot() map[string]storage.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() map[string]storage.Subscriber {
	out := make(map[string]storage.Subscriber, len(r.distro))
	for u := range r.distro {
		out[u] = storage.Subscriber{
			Groups:      fromSet(r.groups[u]),
			MutedGroups: fromSet(r.muted[u]),
		}
	}
	return out
}

// saveLocked writes the full snapshot through to the store. A failed save is
// logged; in-memory state stays authoritative until the next successful save.
func (r *Registry) saveLocked(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveSubscribers(ctx, r.snapshotLocked()); err != nil {
		r.log.Error("subscriber snapshot save failed; durable state is behind", logx.Err(err))
	}
}

func (r *Registry) knownLocked(group string) bool {
	for _, g := range r.cats.Groups {
		if g == group {
			return true
		}
	}
	for _, g := range r.cats.UrgentGroups {
		if g == group {
			return true
		}
	}
	return false
}

func (r *Registry) ack(ctx context.Context, user, text string) {
	if r.send == nil {
		return
	}
	if err := r.send.SendText(ctx, user, text); err != nil {
		r.log.Warn("acknowledgement send failed", logx.String("user", user), logx.Err(err))
	}
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

func fromSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
