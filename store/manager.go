package store

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

type StateType int32

const (
	GobState StateType = iota
	RawState
)

type State struct {
	Type StateType
	//content must be Serializable
	Payload []byte
}

// Controller holds the states of one namespace, usually one operator.
type Controller struct {
	mutex  *sync.RWMutex
	states map[string]State
}

func newController() *Controller {
	return &Controller{mutex: &sync.RWMutex{}, states: map[string]State{}}
}

func (c *Controller) Load(key string) (State, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	state, ok := c.states[key]
	return state, ok
}

func (c *Controller) Store(key string, state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.states[key] = state
}

func (c *Controller) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.states, key)
}

// Range visits states in key order until fn returns false.
func (c *Controller) Range(fn func(key string, state State) bool) {
	c.mutex.RLock()
	keys := make([]string, 0, len(c.states))
	for key := range c.states {
		keys = append(keys, key)
	}
	c.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		state, ok := c.Load(key)
		if ok && !fn(key, state) {
			return
		}
	}
}

// Manager groups controllers and saves them as one envelope per checkpoint.
type Manager struct {
	mutex       *sync.Mutex
	controllers map[string]*Controller
	name        string
	backend     Backend
}

func NewManager(name string, backend Backend) (*Manager, error) {
	m := &Manager{
		mutex:       &sync.Mutex{},
		controllers: map[string]*Controller{},
		name:        name,
		backend:     backend,
	}
	return m, m.init()
}

func (m *Manager) init() error {
	byteSlice, err := m.backend.Get(m.name)
	if errors.Is(err, ErrCheckpointNotFound) {
		return nil
	}
	if err != nil {
		return errors.WithMessagef(err, "failed to get %s state manager's state", m.name)
	}
	controllers, err := unmarshalManagerState(byteSlice)
	if err != nil {
		return errors.WithMessagef(err, "failed to unmarshal %s state manager's state", m.name)
	}
	m.controllers = controllers
	return nil
}

func (m *Manager) Controller(namespace string) *Controller {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, ok := m.controllers[namespace]
	if !ok {
		c = newController()
		m.controllers[namespace] = c
	}
	return c
}

// Restored reports whether any state was loaded from the backend.
func (m *Manager) Restored() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, c := range m.controllers {
		found := false
		c.Range(func(string, State) bool {
			found = true
			return false
		})
		if found {
			return true
		}
	}
	return false
}

// Save stages every controller under checkpoint id; the caller persists it through the backend.
func (m *Manager) Save(id int64) error {
	m.mutex.Lock()
	byteSlice := marshalManagerState(m.controllers)
	m.mutex.Unlock()
	if err := m.backend.Save(id, m.name, byteSlice); err != nil {
		return errors.WithMessagef(err, "failed to save %s state manager's state", m.name)
	}
	return nil
}

func (m *Manager) Clean() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.controllers = map[string]*Controller{}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// marshalManagerState writes the ManagerState message of proto/state.proto.
func marshalManagerState(controllers map[string]*Controller) []byte {
	var b []byte
	for _, namespace := range sortedKeys(controllers) {
		var controllerState []byte
		controllers[namespace].Range(func(key string, state State) bool {
			var stateMessage []byte
			if state.Type != 0 {
				stateMessage = protowire.AppendTag(stateMessage, 1, protowire.VarintType)
				stateMessage = protowire.AppendVarint(stateMessage, uint64(state.Type))
			}
			stateMessage = protowire.AppendTag(stateMessage, 2, protowire.BytesType)
			stateMessage = protowire.AppendBytes(stateMessage, state.Payload)
			controllerState = appendMapEntry(controllerState, key, stateMessage)
			return true
		})
		b = appendMapEntry(b, namespace, controllerState)
	}
	return b
}

func appendMapEntry(b []byte, key string, value []byte) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, 1, protowire.BytesType)
	entry = protowire.AppendString(entry, key)
	entry = protowire.AppendTag(entry, 2, protowire.BytesType)
	entry = protowire.AppendBytes(entry, value)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	return protowire.AppendBytes(b, entry)
}

func unmarshalManagerState(b []byte) (map[string]*Controller, error) {
	controllers := map[string]*Controller{}
	err := consumeMapEntries(b, func(namespace string, value []byte) error {
		c := newController()
		controllers[namespace] = c
		return consumeMapEntries(value, func(key string, stateMessage []byte) error {
			state, err := unmarshalState(stateMessage)
			if err != nil {
				return errors.WithMessagef(err, "state %s/%s", namespace, key)
			}
			c.Store(key, state)
			return nil
		})
	})
	return controllers, err
}

// consumeMapEntries walks the map<string, message> field number 1 of a message.
func consumeMapEntries(b []byte, fn func(key string, value []byte) error) error {
	for len(b) > 0 {
		number, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if number != 1 || typ != protowire.BytesType {
			if n = protowire.ConsumeFieldValue(number, typ, b); n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		key, value, err := consumeMapEntry(entry)
		if err != nil {
			return err
		}
		if err = fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func consumeMapEntry(b []byte) (key string, value []byte, err error) {
	for len(b) > 0 {
		number, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case number == 1 && typ == protowire.BytesType:
			key, n = protowire.ConsumeString(b)
		case number == 2 && typ == protowire.BytesType:
			value, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(number, typ, b)
		}
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return key, value, nil
}

func unmarshalState(b []byte) (State, error) {
	var state State
	for len(b) > 0 {
		number, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return state, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case number == 1 && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			state.Type = StateType(int32(v))
		case number == 2 && typ == protowire.BytesType:
			var payload []byte
			payload, n = protowire.ConsumeBytes(b)
			state.Payload = append([]byte{}, payload...)
		default:
			n = protowire.ConsumeFieldValue(number, typ, b)
		}
		if n < 0 {
			return state, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return state, nil
}
