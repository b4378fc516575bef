package roomsync

// roster is the ordered participant set. Order is by first appearance so the
// UI does not shuffle entries as heartbeats arrive.
type roster struct {
	order []string
	byID  map[string]*Participant
}

func newRoster() *roster {
	return &roster{byID: make(map[string]*Participant)}
}

// Get returns the participant with the given ID, or nil.
func (r *roster) Get(id string) *Participant { return r.byID[id] }

// Ensure returns the participant with the given ID, creating it if absent.
// A non-empty name updates the display name of an existing entry.
func (r *roster) Ensure(id, name string) *Participant {
	if p, ok := r.byID[id]; ok {
		if name != "" {
			p.Name = name
		}
		return p
	}
	p := &Participant{ID: id, Name: name}
	r.byID[id] = p
	r.order = append(r.order, id)
	return p
}

// Remove deletes the participant with the given ID.
func (r *roster) Remove(id string) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns the participants in first-appearance order. The returned slice
// is fresh; the pointed-to participants are the live records.
func (r *roster) All() []*Participant {
	out := make([]*Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the participant count.
func (r *roster) Len() int { return len(r.byID) }

// ClearPeers removes every non-local participant, preserving the local one.
func (r *roster) ClearPeers() {
	for _, id := range append([]string(nil), r.order...) {
		if p := r.byID[id]; p != nil && !p.IsLocal {
			r.Remove(id)
		}
	}
}
