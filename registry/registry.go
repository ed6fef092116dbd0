// Package registry maps the short, storage-stable type tags written into
// event records onto the Go types they decode to.
//
// Tags are decoupled from package paths: moving or renaming the package of
// an event type does not invalidate stored history, as long as the tag stays
// registered.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrUnresolvableType is returned when a tag has no registered type. A
	// stored record carrying such a tag can no longer be decoded.
	ErrUnresolvableType = errors.New("eventcore.registry: unresolvable type")
	// ErrNotRegistered is returned when unregistering, or tagging, a type the
	// registry does not know.
	ErrNotRegistered = errors.New("eventcore.registry: type not registered")
	// ErrNotAnEvent is returned when a tag resolves to a message that is not
	// an event.
	ErrNotAnEvent = errors.New("eventcore.registry: message is not an event")
)

// Kind classifies a registered message.
type Kind uint8

const (
	Event Kind = iota + 1
	Command
	Query
)

func (k Kind) String() string {
	switch k {
	case Event:
		return "event"
	case Command:
		return "command"
	case Query:
		return "query"
	}
	return "unknown"
}

// Tagged lets a type choose its own tag instead of its unqualified name.
type Tagged interface {
	EventType() string
}

// Entry is one registered tag.
type Entry struct {
	Tag  string
	Type reflect.Type
	Kind Kind
}

// Registry is safe for concurrent use.
type Registry struct {
	mx     sync.RWMutex
	byTag  map[string]Entry
	byType map[reflect.Type]string
}

func New() *Registry {
	return &Registry{
		byTag:  make(map[string]Entry),
		byType: make(map[reflect.Type]string),
	}
}

func typeOf(v interface{}) reflect.Type {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// ShortName derives the tag of v: its EventType() when it implements Tagged,
// otherwise the unqualified name of its type.
func ShortName(v interface{}) string {
	if tagged, ok := v.(Tagged); ok {
		return tagged.EventType()
	}
	t := typeOf(v)
	if t == nil {
		return ""
	}
	return t.Name()
}

// Register stores the tag of event. Registering a tag twice overwrites the
// previous mapping.
func (r *Registry) Register(events ...interface{}) {
	for _, event := range events {
		r.add(ShortName(event), typeOf(event), Event)
	}
}

// RegisterKind registers a non-event message under its derived tag.
func (r *Registry) RegisterKind(kind Kind, msg interface{}) {
	r.add(ShortName(msg), typeOf(msg), kind)
}

// Preload seeds the registry with explicit tags, bypassing tag derivation.
// Values may be prototypes (OrderPlaced{}) or reflect.Types.
func (r *Registry) Preload(entries map[string]interface{}) {
	for tag, proto := range entries {
		r.add(tag, typeOf(proto), Event)
	}
}

func (r *Registry) add(tag string, t reflect.Type, kind Kind) {
	if tag == "" || t == nil {
		panic(fmt.Sprintf("eventcore.registry: cannot register %v under tag %q", t, tag))
	}
	r.mx.Lock()
	defer r.mx.Unlock()

	if old, ok := r.byTag[tag]; ok && r.byType[old.Type] == tag {
		delete(r.byType, old.Type)
	}
	r.byTag[tag] = Entry{Tag: tag, Type: t, Kind: kind}
	r.byType[t] = tag
}

// Unregister removes the tag of event.
func (r *Registry) Unregister(event interface{}) error {
	tag := ShortName(event)

	r.mx.Lock()
	defer r.mx.Unlock()
	entry, ok := r.byTag[tag]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, tag)
	}
	delete(r.byTag, tag)
	if r.byType[entry.Type] == tag {
		delete(r.byType, entry.Type)
	}
	return nil
}

// IsRegistered reports whether the tag of event is known.
func (r *Registry) IsRegistered(event interface{}) bool {
	r.mx.RLock()
	defer r.mx.RUnlock()
	_, ok := r.byTag[ShortName(event)]
	return ok
}

// Resolve returns the type registered under tag.
func (r *Registry) Resolve(tag string) (reflect.Type, error) {
	entry, err := r.Lookup(tag)
	if err != nil {
		return nil, err
	}
	return entry.Type, nil
}

// Lookup returns the full entry registered under tag.
func (r *Registry) Lookup(tag string) (Entry, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	entry, ok := r.byTag[tag]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnresolvableType, tag)
	}
	return entry, nil
}

// TagOf returns the tag an event is stored under. Types registered through
// Preload are found by type, everything else by derived tag.
func (r *Registry) TagOf(event interface{}) (string, error) {
	t := typeOf(event)

	r.mx.RLock()
	defer r.mx.RUnlock()
	if tag, ok := r.byType[t]; ok {
		return tag, nil
	}
	tag := ShortName(event)
	if entry, ok := r.byTag[tag]; ok && entry.Type == t {
		return tag, nil
	}
	return "", fmt.Errorf("%w: %v", ErrNotRegistered, t)
}

// NewEvent returns a pointer to a zero value of the event type registered
// under tag.
func (r *Registry) NewEvent(tag string) (interface{}, error) {
	entry, err := r.Lookup(tag)
	if err != nil {
		return nil, err
	}
	if entry.Kind != Event {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotAnEvent, tag, entry.Kind)
	}
	return reflect.New(entry.Type).Interface(), nil
}

// Map returns a copy of the tag to type table.
func (r *Registry) Map() map[string]reflect.Type {
	r.mx.RLock()
	defer r.mx.RUnlock()
	out := make(map[string]reflect.Type, len(r.byTag))
	for tag, entry := range r.byTag {
		out[tag] = entry.Type
	}
	return out
}
