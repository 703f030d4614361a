package mumble

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The control messages are hand-written protowire codecs rather than
// protoc output. Optional scalar fields are pointers so that partial
// updates are explicit: a nil field was absent from the wire and must
// not overwrite cached state.

// Packet is the decoded form of one wire frame. Exactly one concrete
// type exists per handled message kind; frames with a known but
// unhandled tag decode to *RawPacket.
type Packet interface {
	// WireTag returns the frame type tag this packet travels under.
	WireTag() uint16
}

// Version announces protocol and client versions (tag 0).
type Version struct {
	Version   *uint32
	Release   *string
	OS        *string
	OSVersion *string
}

// Authenticate carries the login identity (tag 2).
type Authenticate struct {
	Username *string
	Password *string
	Tokens   []string
	Opus     *bool
}

// Ping is the keepalive message (tag 3).
type Ping struct {
	Timestamp *uint64
}

// Reject is the server refusing the connection (tag 4).
type Reject struct {
	Type   *uint32
	Reason *string
}

// ServerSync completes the login sequence and announces our session (tag 5).
type ServerSync struct {
	Session      *uint32
	MaxBandwidth *uint32
	WelcomeText  *string
	Permissions  *uint64
}

// ChannelRemove deletes a channel (tag 6).
type ChannelRemove struct {
	ChannelID uint32
}

// ChannelState creates or partially updates a channel (tag 7).
type ChannelState struct {
	ChannelID   *uint32
	Parent      *uint32
	Name        *string
	Links       []uint32
	Description *string
}

// UserRemove announces a disconnected user (tag 8).
type UserRemove struct {
	Session uint32
	Actor   *uint32
	Reason  *string
	Ban     *bool
}

// UserState creates or partially updates a user session (tag 9).
type UserState struct {
	Session   *uint32
	Actor     *uint32
	Name      *string
	UserID    *uint32
	ChannelID *uint32
	Mute      *bool
	Deaf      *bool
	SelfMute  *bool
	SelfDeaf  *bool
	Comment   *string
}

// TextMessage is a chat message (tag 11).
type TextMessage struct {
	Actor     *uint32
	Session   []uint32
	ChannelID []uint32
	TreeID    []uint32
	Message   string
}

// PermissionDenied reports a refused operation (tag 12).
type PermissionDenied struct {
	Permission *uint32
	ChannelID  *uint32
	Session    *uint32
	Reason     *string
	Type       *uint32
	Name       *string
}

// RawPacket holds a known-but-unhandled frame: parsed far enough to
// log, otherwise ignored.
type RawPacket struct {
	Tag     uint16
	Payload []byte
}

func (*Version) WireTag() uint16          { return TagVersion }
func (*Authenticate) WireTag() uint16     { return TagAuthenticate }
func (*Ping) WireTag() uint16             { return TagPing }
func (*Reject) WireTag() uint16           { return TagReject }
func (*ServerSync) WireTag() uint16       { return TagServerSync }
func (*ChannelRemove) WireTag() uint16    { return TagChannelRemove }
func (*ChannelState) WireTag() uint16     { return TagChannelState }
func (*UserRemove) WireTag() uint16       { return TagUserRemove }
func (*UserState) WireTag() uint16        { return TagUserState }
func (*TextMessage) WireTag() uint16      { return TagTextMessage }
func (*PermissionDenied) WireTag() uint16 { return TagPermissionDenied }
func (p *RawPacket) WireTag() uint16      { return p.Tag }

// DecodePacket parses a frame payload according to its type tag. An
// unknown tag is a fatal stream error; a malformed payload reports the
// offending tag's name.
func DecodePacket(tag uint16, payload []byte) (Packet, error) {
	if tag >= uint16(tagCount) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}

	var (
		pkt Packet
		err error
	)
	switch tag {
	case TagVersion:
		m := &Version{}
		err, pkt = m.unmarshal(payload), m
	case TagPing:
		m := &Ping{}
		err, pkt = m.unmarshal(payload), m
	case TagReject:
		m := &Reject{}
		err, pkt = m.unmarshal(payload), m
	case TagServerSync:
		m := &ServerSync{}
		err, pkt = m.unmarshal(payload), m
	case TagChannelRemove:
		m := &ChannelRemove{}
		err, pkt = m.unmarshal(payload), m
	case TagChannelState:
		m := &ChannelState{}
		err, pkt = m.unmarshal(payload), m
	case TagUserRemove:
		m := &UserRemove{}
		err, pkt = m.unmarshal(payload), m
	case TagUserState:
		m := &UserState{}
		err, pkt = m.unmarshal(payload), m
	case TagTextMessage:
		m := &TextMessage{}
		err, pkt = m.unmarshal(payload), m
	case TagPermissionDenied:
		m := &PermissionDenied{}
		err, pkt = m.unmarshal(payload), m
	default:
		pkt = &RawPacket{Tag: tag, Payload: payload}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", TagName(tag), err)
	}
	return pkt, nil
}

// ----- encoding helpers -----

func appendOptUint32(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(*v))
}

func appendOptUint64(b []byte, num protowire.Number, v *uint64) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, *v)
}

func appendOptBool(b []byte, num protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	if *v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendOptString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

func appendUint32s(b []byte, num protowire.Number, vs []uint32) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

// ----- decoding helpers -----

// walkFields iterates the fields of a protobuf payload. fn consumes the
// value of one field and returns the number of bytes used, or a
// negative protowire error count.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func consumeOptUint32(dst **uint32, b []byte) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		u := uint32(v)
		*dst = &u
	}
	return n
}

func consumeOptUint64(dst **uint64, b []byte) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = &v
	}
	return n
}

func consumeOptBool(dst **bool, b []byte) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		u := v != 0
		*dst = &u
	}
	return n
}

func consumeOptString(dst **string, b []byte) int {
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = &v
	}
	return n
}

// consumeUint32s accepts both the unpacked and packed encodings of a
// repeated varint field.
func consumeUint32s(dst *[]uint32, typ protowire.Type, b []byte) int {
	if typ == protowire.VarintType {
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*dst = append(*dst, uint32(v))
		}
		return n
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return m
		}
		*dst = append(*dst, uint32(v))
		packed = packed[m:]
	}
	return n
}

// ----- per-message codecs -----

// Marshal serializes the message payload (header excluded).
func (m *Version) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.Version)
	b = appendOptString(b, 2, m.Release)
	b = appendOptString(b, 3, m.OS)
	b = appendOptString(b, 4, m.OSVersion)
	return b
}

func (m *Version) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Version, b)
		case num == 2 && typ == protowire.BytesType:
			return consumeOptString(&m.Release, b)
		case num == 3 && typ == protowire.BytesType:
			return consumeOptString(&m.OS, b)
		case num == 4 && typ == protowire.BytesType:
			return consumeOptString(&m.OSVersion, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *Authenticate) Marshal() []byte {
	var b []byte
	b = appendOptString(b, 1, m.Username)
	b = appendOptString(b, 2, m.Password)
	for _, t := range m.Tokens {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	b = appendOptBool(b, 5, m.Opus)
	return b
}

func (m *Authenticate) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeOptString(&m.Username, b)
		case num == 2 && typ == protowire.BytesType:
			return consumeOptString(&m.Password, b)
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				m.Tokens = append(m.Tokens, v)
			}
			return n
		case num == 5 && typ == protowire.VarintType:
			return consumeOptBool(&m.Opus, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *Ping) Marshal() []byte {
	var b []byte
	b = appendOptUint64(b, 1, m.Timestamp)
	return b
}

func (m *Ping) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.VarintType {
			return consumeOptUint64(&m.Timestamp, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *Reject) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.Type)
	b = appendOptString(b, 2, m.Reason)
	return b
}

func (m *Reject) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Type, b)
		case num == 2 && typ == protowire.BytesType:
			return consumeOptString(&m.Reason, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// TypeName returns the reject reason's protocol name, for logging.
func (m *Reject) TypeName() string {
	if m.Type == nil {
		return "None"
	}
	return rejectTypeName(*m.Type)
}

func (m *ServerSync) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.Session)
	b = appendOptUint32(b, 2, m.MaxBandwidth)
	b = appendOptString(b, 3, m.WelcomeText)
	b = appendOptUint64(b, 4, m.Permissions)
	return b
}

func (m *ServerSync) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Session, b)
		case num == 2 && typ == protowire.VarintType:
			return consumeOptUint32(&m.MaxBandwidth, b)
		case num == 3 && typ == protowire.BytesType:
			return consumeOptString(&m.WelcomeText, b)
		case num == 4 && typ == protowire.VarintType:
			return consumeOptUint64(&m.Permissions, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *ChannelRemove) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ChannelID))
	return b
}

func (m *ChannelRemove) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n >= 0 {
				m.ChannelID = uint32(v)
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *ChannelState) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.ChannelID)
	b = appendOptUint32(b, 2, m.Parent)
	b = appendOptString(b, 3, m.Name)
	b = appendUint32s(b, 4, m.Links)
	b = appendOptString(b, 5, m.Description)
	return b
}

func (m *ChannelState) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.ChannelID, b)
		case num == 2 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Parent, b)
		case num == 3 && typ == protowire.BytesType:
			return consumeOptString(&m.Name, b)
		case num == 4:
			return consumeUint32s(&m.Links, typ, b)
		case num == 5 && typ == protowire.BytesType:
			return consumeOptString(&m.Description, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// Merge folds a partial update into m: fields present in in overwrite,
// absent fields keep their previous values.
func (m *ChannelState) Merge(in *ChannelState) {
	if in.ChannelID != nil {
		m.ChannelID = in.ChannelID
	}
	if in.Parent != nil {
		m.Parent = in.Parent
	}
	if in.Name != nil {
		m.Name = in.Name
	}
	if in.Links != nil {
		m.Links = in.Links
	}
	if in.Description != nil {
		m.Description = in.Description
	}
}

func (m *UserRemove) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Session))
	b = appendOptUint32(b, 2, m.Actor)
	b = appendOptString(b, 3, m.Reason)
	b = appendOptBool(b, 4, m.Ban)
	return b
}

func (m *UserRemove) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n >= 0 {
				m.Session = uint32(v)
			}
			return n
		case num == 2 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Actor, b)
		case num == 3 && typ == protowire.BytesType:
			return consumeOptString(&m.Reason, b)
		case num == 4 && typ == protowire.VarintType:
			return consumeOptBool(&m.Ban, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *UserState) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.Session)
	b = appendOptUint32(b, 2, m.Actor)
	b = appendOptString(b, 3, m.Name)
	b = appendOptUint32(b, 4, m.UserID)
	b = appendOptUint32(b, 5, m.ChannelID)
	b = appendOptBool(b, 6, m.Mute)
	b = appendOptBool(b, 7, m.Deaf)
	b = appendOptBool(b, 9, m.SelfMute)
	b = appendOptBool(b, 10, m.SelfDeaf)
	b = appendOptString(b, 14, m.Comment)
	return b
}

func (m *UserState) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Session, b)
		case num == 2 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Actor, b)
		case num == 3 && typ == protowire.BytesType:
			return consumeOptString(&m.Name, b)
		case num == 4 && typ == protowire.VarintType:
			return consumeOptUint32(&m.UserID, b)
		case num == 5 && typ == protowire.VarintType:
			return consumeOptUint32(&m.ChannelID, b)
		case num == 6 && typ == protowire.VarintType:
			return consumeOptBool(&m.Mute, b)
		case num == 7 && typ == protowire.VarintType:
			return consumeOptBool(&m.Deaf, b)
		case num == 9 && typ == protowire.VarintType:
			return consumeOptBool(&m.SelfMute, b)
		case num == 10 && typ == protowire.VarintType:
			return consumeOptBool(&m.SelfDeaf, b)
		case num == 14 && typ == protowire.BytesType:
			return consumeOptString(&m.Comment, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// Merge folds a partial update into m, absent fields keeping their
// previous values.
func (m *UserState) Merge(in *UserState) {
	if in.Session != nil {
		m.Session = in.Session
	}
	if in.Actor != nil {
		m.Actor = in.Actor
	}
	if in.Name != nil {
		m.Name = in.Name
	}
	if in.UserID != nil {
		m.UserID = in.UserID
	}
	if in.ChannelID != nil {
		m.ChannelID = in.ChannelID
	}
	if in.Mute != nil {
		m.Mute = in.Mute
	}
	if in.Deaf != nil {
		m.Deaf = in.Deaf
	}
	if in.SelfMute != nil {
		m.SelfMute = in.SelfMute
	}
	if in.SelfDeaf != nil {
		m.SelfDeaf = in.SelfDeaf
	}
	if in.Comment != nil {
		m.Comment = in.Comment
	}
}

func (m *TextMessage) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.Actor)
	b = appendUint32s(b, 2, m.Session)
	b = appendUint32s(b, 3, m.ChannelID)
	b = appendUint32s(b, 4, m.TreeID)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, m.Message)
	return b
}

func (m *TextMessage) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Actor, b)
		case num == 2:
			return consumeUint32s(&m.Session, typ, b)
		case num == 3:
			return consumeUint32s(&m.ChannelID, typ, b)
		case num == 4:
			return consumeUint32s(&m.TreeID, typ, b)
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				m.Message = v
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

func (m *PermissionDenied) Marshal() []byte {
	var b []byte
	b = appendOptUint32(b, 1, m.Permission)
	b = appendOptUint32(b, 2, m.ChannelID)
	b = appendOptUint32(b, 3, m.Session)
	b = appendOptString(b, 4, m.Reason)
	b = appendOptUint32(b, 5, m.Type)
	b = appendOptString(b, 6, m.Name)
	return b
}

func (m *PermissionDenied) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Permission, b)
		case num == 2 && typ == protowire.VarintType:
			return consumeOptUint32(&m.ChannelID, b)
		case num == 3 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Session, b)
		case num == 4 && typ == protowire.BytesType:
			return consumeOptString(&m.Reason, b)
		case num == 5 && typ == protowire.VarintType:
			return consumeOptUint32(&m.Type, b)
		case num == 6 && typ == protowire.BytesType:
			return consumeOptString(&m.Name, b)
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}

// ----- small constructors shared by the client and tests -----

func pu32(v uint32) *uint32 { return &v }
func pu64(v uint64) *uint64 { return &v }
func pstr(v string) *string { return &v }
func pbool(v bool) *bool    { return &v }
