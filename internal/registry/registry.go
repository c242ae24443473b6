package registry

import (
	"sync"

	"httploader/internal/errs"
	"httploader/internal/parse"
	"httploader/internal/transport"
)

// Entry is one key offered to Register
type Entry struct {
	Key    string
	Target transport.Target
	Parse  parse.Strategy
}

// Descriptor is the immutable registration data of a key
type Descriptor struct {
	GroupID int
	Target  transport.Target
	Parse   parse.Strategy
}

// Group describes the batch group created by one Register call.
// Group ids start at 1; the zero Group means no group was created.
type Group struct {
	ID   int
	Keys []string
}

// Registry maps keys to descriptors. The first registration of a key wins.
type Registry struct {
	descriptors map[string]Descriptor
	groups      map[int][]string
	order       []string
	nextGroup   int
	mu          sync.RWMutex
}

// New creates an empty Registry
func New() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		groups:      make(map[int][]string),
		nextGroup:   1,
	}
}

// Register adds every entry whose key is not registered yet to one new group.
// Nothing is registered if any entry is invalid. When no entry is new the
// returned group has no keys and no group id is consumed.
func (r *Registry) Register(entries ...Entry) (Group, error) {
	if len(entries) == 0 {
		return Group{}, errs.InvalidArgument("at least one entry is required")
	}
	for i, e := range entries {
		if err := validate(i, e); err != nil {
			return Group{}, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if _, exists := r.descriptors[e.Key]; exists || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		fresh = append(fresh, e)
	}

	if len(fresh) == 0 {
		return Group{}, nil
	}

	group := Group{ID: r.nextGroup, Keys: make([]string, 0, len(fresh))}
	r.nextGroup++

	for _, e := range fresh {
		r.descriptors[e.Key] = Descriptor{
			GroupID: group.ID,
			Target:  cloneTarget(e.Target),
			Parse:   e.Parse,
		}
		r.order = append(r.order, e.Key)
		group.Keys = append(group.Keys, e.Key)
	}

	members := make([]string, len(group.Keys))
	copy(members, group.Keys)
	r.groups[group.ID] = members

	return group, nil
}

// Resolve returns the descriptor of key
func (r *Registry) Resolve(key string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[key]
	if !ok {
		return Descriptor{}, errs.UnknownKey(key)
	}
	return d, nil
}

// Contains reports whether key is registered
func (r *Registry) Contains(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[key]
	return ok
}

// Members returns the keys of a group, or nil for an unknown group id
func (r *Registry) Members(groupID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	keys := make([]string, len(members))
	copy(keys, members)
	return keys
}

// Keys returns all registered keys in registration order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Len returns the number of registered keys
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func validate(i int, e Entry) error {
	if e.Key == "" {
		return errs.InvalidArgument("entry[%d]: key must be a non-empty string", i)
	}
	if e.Target.URL == "" {
		return errs.InvalidArgument("entry[%d]: target url for key %q must be a non-empty string", i, e.Key)
	}
	if err := e.Parse.Validate(); err != nil {
		return errs.InvalidArgument("entry[%d]: key %q: %v", i, e.Key, err)
	}
	return nil
}

// cloneTarget copies the mutable parts of t so later changes by the caller
// do not leak into the descriptor
func cloneTarget(t transport.Target) transport.Target {
	if t.Headers != nil {
		headers := make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			headers[k] = v
		}
		t.Headers = headers
	}
	if t.Body != nil {
		t.Body = append([]byte(nil), t.Body...)
	}
	return t
}
