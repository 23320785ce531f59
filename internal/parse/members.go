package parse

// MemberTracker declares members for formats that have no member list: a
// member is emitted on first appearance and again whenever its display name
// changes, so the store can keep the name history.
type MemberTracker struct {
	names map[string]string
}

func NewMemberTracker() *MemberTracker {
	return &MemberTracker{names: make(map[string]string)}
}

// Observe emits m if it is new or renamed. m.NameSince should be the
// timestamp of the message that revealed the name.
func (t *MemberTracker) Observe(e *Emitter, m ParsedMember) error {
	if m.PlatformID == "" {
		return nil
	}
	if prev, ok := t.names[m.PlatformID]; ok && prev == m.Name {
		return nil
	}
	t.names[m.PlatformID] = m.Name
	return e.Member(m)
}

// Seen marks a member declared elsewhere (for example in a header list).
func (t *MemberTracker) Seen(m ParsedMember) {
	t.names[m.PlatformID] = m.Name
}

// Known reports whether id has been declared.
func (t *MemberTracker) Known(id string) bool {
	_, ok := t.names[id]
	return ok
}

func (t *MemberTracker) Len() int {
	return len(t.names)
}
