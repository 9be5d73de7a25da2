package handle

import (
	"path"
	"strings"

	"github.com/flux-framework/flux-core-sub021/pkg/message"
)

// TypeMask is a bitset of message.Type values a Match accepts.
type TypeMask uint8

const (
	MatchRequest TypeMask = 1 << iota
	MatchResponse
	MatchEvent
	MatchKeepalive
	MatchControl
)

// MatchAny accepts every message type.
const MatchAny = MatchRequest | MatchResponse | MatchEvent | MatchKeepalive | MatchControl

func typeBit(t message.Type) TypeMask {
	switch t {
	case message.TypeRequest:
		return MatchRequest
	case message.TypeResponse:
		return MatchResponse
	case message.TypeEvent:
		return MatchEvent
	case message.TypeKeepalive:
		return MatchKeepalive
	case message.TypeControl:
		return MatchControl
	default:
		return 0
	}
}

// Match is a predicate over a message's type, topic, and matchtag. A zero
// Match{} matches every message: zero Types accepts any type (as MatchAny
// does), an empty Topic accepts any topic, and the matchtag is compared
// only when HasMatchtag is set.
type Match struct {
	Types       TypeMask
	Topic       string // shell-style glob: *, ?, [...]
	Matchtag    uint32
	HasMatchtag bool
}

// Matches reports whether msg satisfies m.
func (m Match) Matches(msg *message.Message) bool {
	if m.Types != 0 && m.Types&typeBit(msg.Type()) == 0 {
		return false
	}
	if m.HasMatchtag && msg.Matchtag() != m.Matchtag {
		return false
	}
	if m.Topic != "" && !TopicGlobMatch(m.Topic, msg.Topic()) {
		return false
	}
	return true
}

// TopicGlobMatch reports whether topic matches the shell-style glob
// pattern (supporting *, ?, and [...] bracket classes) the way the
// dispatcher matches subscriptions and handler registrations against
// incoming topics. Flux topics use '.' as a hierarchy separator but the
// glob does not treat it specially — "foo.*" matches "foo.bar.baz" too,
// matching the source's fnmatch-based behavior.
func TopicGlobMatch(pattern, topic string) bool {
	ok, err := path.Match(pattern, topic)
	if err != nil {
		// A malformed pattern (unterminated bracket class) never matches,
		// rather than surfacing a panic-prone glob engine error to callers
		// registering handlers at startup.
		return false
	}
	return ok
}

// HasPrefix reports whether topic belongs to service: service "foo"
// accepts topics "foo.bar" and "foo" itself.
func HasPrefix(service, topic string) bool {
	if topic == service {
		return true
	}
	return strings.HasPrefix(topic, service+".")
}
