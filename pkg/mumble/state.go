package mumble

import (
	"github.com/nemored/pipo/pkg/bus"
)

// stateCache mirrors the server's channel and user state for one
// connection. The server is authoritative and re-announces everything
// after each successful Authenticate, so the cache is discarded and
// rebuilt on every reconnect. It is owned exclusively by the event
// loop: no locking.
type stateCache struct {
	nickname string

	// Static for the transport's lifetime: the configured
	// channel-name-to-bus mapping and its reverse.
	busByChannel  map[string]*bus.Bus
	channelForBus map[string]string

	// Rebuilt per connection.
	channels   map[uint32]*channelEntry
	channelIDs map[string]uint32
	users      map[uint32]*UserState
	actor      *uint32
}

// channelEntry pairs a channel's merged state with its bus binding.
// bus is nil for channels whose name has no configured mapping; such
// channels are tracked by id but never produce bus traffic.
type channelEntry struct {
	state ChannelState
	bus   *bus.Bus
}

func newStateCache(nickname string, busByChannel map[string]*bus.Bus) *stateCache {
	// When several channels map to one bus, outbound messages go to
	// the lexicographically first channel name so resolution is stable
	// across runs.
	channelForBus := make(map[string]string, len(busByChannel))
	for channel, b := range busByChannel {
		if prev, ok := channelForBus[b.Name()]; ok && prev <= channel {
			continue
		}
		channelForBus[b.Name()] = channel
	}
	s := &stateCache{
		nickname:      nickname,
		busByChannel:  busByChannel,
		channelForBus: channelForBus,
	}
	s.reset()
	return s
}

// reset drops all server-pushed state. The static bus mapping survives.
func (s *stateCache) reset() {
	s.channels = make(map[uint32]*channelEntry)
	s.channelIDs = make(map[string]uint32)
	s.users = make(map[uint32]*UserState)
	s.actor = nil
}

// mergeChannel applies a full or partial ChannelState update: fields
// absent from the update keep their cached values.
func (s *stateCache) mergeChannel(in *ChannelState) error {
	if in.ChannelID == nil {
		return ErrMissingChannelID
	}
	id := *in.ChannelID

	entry := s.channels[id]
	if entry == nil {
		entry = &channelEntry{}
		s.channels[id] = entry
	}
	prevName := entry.state.Name
	entry.state.Merge(in)

	if name := entry.state.Name; name != nil {
		if prevName != nil && *prevName != *name && s.channelIDs[*prevName] == id {
			delete(s.channelIDs, *prevName)
		}
		s.channelIDs[*name] = id
		entry.bus = s.busByChannel[*name]
	}
	return nil
}

// removeChannel drops a channel from both indices. Its bus binding
// becomes unresolved; the name-to-bus configuration itself is static
// and untouched.
func (s *stateCache) removeChannel(id uint32) {
	entry := s.channels[id]
	if entry == nil {
		return
	}
	if name := entry.state.Name; name != nil && s.channelIDs[*name] == id {
		delete(s.channelIDs, *name)
	}
	delete(s.channels, id)
}

// mergeUser applies a full or partial UserState update and detects our
// own session by nickname match.
func (s *stateCache) mergeUser(in *UserState) error {
	if in.Session == nil {
		return ErrMissingSession
	}
	session := *in.Session

	u := s.users[session]
	if u == nil {
		u = &UserState{}
		s.users[session] = u
	}
	u.Merge(in)

	if u.Name != nil && *u.Name == s.nickname {
		s.actor = pu32(session)
	}
	return nil
}

// removeUser drops a session. If it was our own, outbound sends fail
// until the server re-announces us (which it does after reconnect).
func (s *stateCache) removeUser(session uint32) {
	if s.actor != nil && *s.actor == session {
		s.actor = nil
	}
	delete(s.users, session)
}

// setActor records our session id as announced by ServerSync.
func (s *stateCache) setActor(session uint32) {
	s.actor = pu32(session)
}

func (s *stateCache) actorID() (uint32, bool) {
	if s.actor == nil {
		return 0, false
	}
	return *s.actor, true
}

// channelIDForBus resolves a bus name to the server channel id mapped
// to it, if the channel has been announced on this connection.
func (s *stateCache) channelIDForBus(busName string) (uint32, bool) {
	name, ok := s.channelForBus[busName]
	if !ok {
		return 0, false
	}
	id, ok := s.channelIDs[name]
	return id, ok
}

// busForChannelID resolves a server channel id to its bound bus, if
// the channel is known and mapped.
func (s *stateCache) busForChannelID(id uint32) (*bus.Bus, bool) {
	entry := s.channels[id]
	if entry == nil || entry.bus == nil {
		return nil, false
	}
	return entry.bus, true
}

func (s *stateCache) usernameForSession(session uint32) (string, bool) {
	u := s.users[session]
	if u == nil || u.Name == nil {
		return "", false
	}
	return *u.Name, true
}
