package upcast

// funcUpcaster matches one type at one payload version.
type funcUpcaster struct {
	typ     string
	version int
	fn      func(Message) ([]Message, error)
}

func (u funcUpcaster) Supports(m Message) bool {
	return m.Type == u.typ && m.Version == u.version
}

func (u funcUpcaster) Upcast(m Message) ([]Message, error) {
	return u.fn(m)
}

// Func builds an upcaster for typ at version from a plain function. The
// function owns the version bookkeeping of what it returns.
func Func(typ string, version int, fn func(Message) ([]Message, error)) Upcaster {
	return funcUpcaster{typ: typ, version: version, fn: fn}
}

// step wraps a single-message transform and bumps the version.
func step(typ string, version int, fn func(*Message)) Upcaster {
	return Func(typ, version, func(m Message) ([]Message, error) {
		if m.Data == nil {
			m.Data = map[string]interface{}{}
		}
		fn(&m)
		m.Version = version + 1
		return []Message{m}, nil
	})
}

// AddField sets field to value when it is missing.
func AddField(typ string, version int, field string, value interface{}) Upcaster {
	return step(typ, version, func(m *Message) {
		if _, ok := m.Data[field]; !ok {
			m.Data[field] = value
		}
	})
}

// RenameField moves the value at from to to.
func RenameField(typ string, version int, from, to string) Upcaster {
	return step(typ, version, func(m *Message) {
		if v, ok := m.Data[from]; ok {
			delete(m.Data, from)
			m.Data[to] = v
		}
	})
}

// RemoveField drops field.
func RemoveField(typ string, version int, field string) Upcaster {
	return step(typ, version, func(m *Message) {
		delete(m.Data, field)
	})
}

// RenameType re-tags a message, for when an event type was renamed.
func RenameType(typ string, version int, to string) Upcaster {
	return step(typ, version, func(m *Message) {
		m.Type = to
	})
}

// Split turns one message into several. Every returned message is fed back
// into the chain, so split results that still need work are upcast further.
func Split(typ string, version int, fn func(Message) []Message) Upcaster {
	return Func(typ, version, func(m Message) ([]Message, error) {
		return fn(m), nil
	})
}
