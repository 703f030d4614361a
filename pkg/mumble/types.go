// Package mumble implements the Mumble control-channel transport: a
// TCP+TLS client speaking the length-prefixed protobuf wire protocol,
// bridging server text channels onto relay buses. Only the control
// channel is implemented; UDP voice data is out of scope.
package mumble

import "errors"

// Wire message type tags. Each TCP message is tagged with one of these
// in its 6-byte header.
const (
	TagVersion uint16 = iota
	TagUDPTunnel
	TagAuthenticate
	TagPing
	TagReject
	TagServerSync
	TagChannelRemove
	TagChannelState
	TagUserRemove
	TagUserState
	TagBanList
	TagTextMessage
	TagPermissionDenied
	TagACL
	TagQueryUsers
	TagCryptSetup
	TagContextActionModify
	TagContextAction
	TagUserList
	TagVoiceTarget
	TagPermissionQuery
	TagCodecVersion
	TagUserStats
	TagRequestBlob
	TagServerConfig
	TagSuggestConfig

	tagCount
)

// Framing limits.
const (
	// HeaderSize is the fixed wire header: 2-byte tag + 4-byte length,
	// both big-endian.
	HeaderSize = 6

	// MaxPayloadSize caps a single frame's payload. A frame announcing
	// more than this is a fatal stream error.
	MaxPayloadSize = 8 * 1024 * 1024
)

// DefaultPort is used when the configured server address has no port.
const DefaultPort = "64738"

var (
	ErrUnknownTag       = errors.New("unknown message type tag")
	ErrPayloadTooLarge  = errors.New("frame payload exceeds maximum size")
	ErrCertMismatch     = errors.New("certificate does not match pinned certificate")
	ErrNoPeerCert       = errors.New("server presented no certificate")
	ErrActorUnresolved  = errors.New("own session not yet resolved")
	ErrChannelUnmapped  = errors.New("no channel mapped to bus")
	ErrMissingChannelID = errors.New("channel state without channel id")
	ErrMissingSession   = errors.New("user state without session")
)

var tagNames = [tagCount]string{
	"Version", "UDPTunnel", "Authenticate", "Ping", "Reject",
	"ServerSync", "ChannelRemove", "ChannelState", "UserRemove",
	"UserState", "BanList", "TextMessage", "PermissionDenied", "ACL",
	"QueryUsers", "CryptSetup", "ContextActionModify", "ContextAction",
	"UserList", "VoiceTarget", "PermissionQuery", "CodecVersion",
	"UserStats", "RequestBlob", "ServerConfig", "SuggestConfig",
}

// TagName returns the protocol name for a type tag, or "unknown".
func TagName(tag uint16) string {
	if tag < tagCount {
		return tagNames[tag]
	}
	return "unknown"
}

// Reject reason codes, for logging.
var rejectTypeNames = []string{
	"None", "WrongVersion", "InvalidUsername", "WrongUserPW",
	"WrongServerPW", "UsernameInUse", "ServerFull", "NoCertificate",
	"AuthenticatorFail",
}

func rejectTypeName(t uint32) string {
	if int(t) < len(rejectTypeNames) {
		return rejectTypeNames[t]
	}
	return "unknown"
}
