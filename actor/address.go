package actor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// ProtocolLocal is the URI scheme for purely in-process addresses.
	ProtocolLocal = "movie"

	// ProtocolRemote is the URI scheme for addresses reachable over TCP.
	ProtocolRemote = "movie.tcp"
)

// Endpoint is the network location of a remote actor system.
type Endpoint struct {
	// Host is the hostname or IP the remote system listens on.
	Host string

	// Port is the TCP port the remote system listens on.
	Port int
}

// String returns the host:port form of the endpoint.
func (e Endpoint) String() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// Address identifies an actor system. A local address is just a protocol and
// a system name; a remote address additionally carries the TCP endpoint the
// system is reachable at.
type Address struct {
	// Protocol is ProtocolLocal or ProtocolRemote.
	Protocol string

	// System is the non-empty name of the actor system.
	System string

	// Endpoint is present iff the address is remote.
	Endpoint fn.Option[Endpoint]
}

// NewLocalAddress returns the in-process address for the given system name.
func NewLocalAddress(system string) Address {
	return Address{
		Protocol: ProtocolLocal,
		System:   system,
		Endpoint: fn.None[Endpoint](),
	}
}

// NewRemoteAddress returns the TCP address for the given system name and
// endpoint.
func NewRemoteAddress(system, host string, port int) Address {
	return Address{
		Protocol: ProtocolRemote,
		System:   system,
		Endpoint: fn.Some(Endpoint{Host: host, Port: port}),
	}
}

// IsRemote reports whether the address carries a TCP endpoint.
func (a Address) IsRemote() bool {
	return a.Endpoint.IsSome()
}

// String formats the address as a URI: movie://name for local addresses, or
// movie.tcp://name@host:port for remote ones. Formatting is total and
// round-trips through ParseAddress.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString(a.Protocol)
	b.WriteString("://")
	b.WriteString(a.System)

	a.Endpoint.WhenSome(func(ep Endpoint) {
		b.WriteString("@")
		b.WriteString(ep.String())
	})

	return b.String()
}

// RootPath returns the root actor path (zero segments) for this address.
func (a Address) RootPath() ActorPath {
	return ActorPath{Address: a}
}

// ActorPath is the location of a single actor within a system: an address
// plus an ordered sequence of path segments below the root guardian.
type ActorPath struct {
	// Address identifies the owning actor system.
	Address Address

	// Segments are the path elements below the root guardian. The root
	// path has zero segments.
	Segments []string
}

// Child returns the path of a direct child with the given name.
func (p ActorPath) Child(name string) ActorPath {
	segs := make([]string, 0, len(p.Segments)+1)
	segs = append(segs, p.Segments...)
	segs = append(segs, name)

	return ActorPath{Address: p.Address, Segments: segs}
}

// Parent returns the parent path. The parent of the root path is the root
// path itself.
func (p ActorPath) Parent() ActorPath {
	if len(p.Segments) == 0 {
		return p
	}

	return ActorPath{
		Address:  p.Address,
		Segments: p.Segments[:len(p.Segments)-1],
	}
}

// Name returns the final path segment, or the empty string for the root
// path.
func (p ActorPath) Name() string {
	if len(p.Segments) == 0 {
		return ""
	}

	return p.Segments[len(p.Segments)-1]
}

// IsRoot reports whether this is the root guardian's path.
func (p ActorPath) IsRoot() bool {
	return len(p.Segments) == 0
}

// Equal reports element-wise equality of two paths, including their
// addresses.
func (p ActorPath) Equal(other ActorPath) bool {
	if p.Address != other.Address {
		return false
	}
	if len(p.Segments) != len(other.Segments) {
		return false
	}
	for i, seg := range p.Segments {
		if other.Segments[i] != seg {
			return false
		}
	}

	return true
}

// String formats the path as a URI. The string form is the canonical hash
// key for a path.
func (p ActorPath) String() string {
	var b strings.Builder
	b.WriteString(p.Address.String())
	for _, seg := range p.Segments {
		b.WriteString("/")
		b.WriteString(seg)
	}

	return b.String()
}

// validName reports whether a system name or path segment is well formed: it
// must be non-empty and free of separators and ASCII control characters.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
		switch r {
		case '/', '@', ':':
			return false
		}
	}

	return true
}

// ParseAddress parses a URI of the form movie://name or
// movie.tcp://name@host:port. It fails with ErrBadPath on an unknown
// protocol, empty system name, or malformed endpoint.
func ParseAddress(s string) (Address, error) {
	scheme, rest, found := strings.Cut(s, "://")
	if !found {
		return Address{}, fmt.Errorf("%w: missing protocol in %q",
			ErrBadPath, s)
	}

	switch scheme {
	case ProtocolLocal:
		if !validName(rest) {
			return Address{}, fmt.Errorf("%w: bad system name "+
				"in %q", ErrBadPath, s)
		}

		return NewLocalAddress(rest), nil

	case ProtocolRemote:
		name, hostPort, found := strings.Cut(rest, "@")
		if !found || !validName(name) {
			return Address{}, fmt.Errorf("%w: remote address %q "+
				"requires name@host:port", ErrBadPath, s)
		}

		host, portStr, found := strings.Cut(hostPort, ":")
		if !found || host == "" {
			return Address{}, fmt.Errorf("%w: malformed "+
				"endpoint in %q", ErrBadPath, s)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return Address{}, fmt.Errorf("%w: bad port in %q",
				ErrBadPath, s)
		}

		return NewRemoteAddress(name, host, port), nil

	default:
		return Address{}, fmt.Errorf("%w: unknown protocol %q",
			ErrBadPath, scheme)
	}
}

// ParsePath parses a full path URI such as
// movie.tcp://sys@host:port/user/a. Relative and bare-absolute forms need an
// address for context; use Address.ParsePath for those.
func ParsePath(s string) (ActorPath, error) {
	scheme, _, found := strings.Cut(s, "://")
	if !found {
		return ActorPath{}, fmt.Errorf("%w: %q is not a path URI",
			ErrBadPath, s)
	}

	rest := s[len(scheme)+len("://"):]
	authority, pathPart, _ := strings.Cut(rest, "/")

	addr, err := ParseAddress(scheme + "://" + authority)
	if err != nil {
		return ActorPath{}, err
	}

	return addr.parseSegments(pathPart)
}

// ParsePath resolves a path string against this address. Three shapes are
// accepted: a full URI (which may point at a different system entirely), an
// absolute local path such as /user/x, and a relative path such as user/x.
// Relative paths that do not start with a well-known root are rooted at
// /user.
func (a Address) ParsePath(s string) (ActorPath, error) {
	if strings.Contains(s, "://") {
		return ParsePath(s)
	}

	switch {
	case s == "" || s == "/":
		return a.RootPath(), nil

	case strings.HasPrefix(s, "/"):
		return a.parseSegments(s[1:])

	default:
		first, _, _ := strings.Cut(s, "/")
		if first == "user" || first == "system" {
			return a.parseSegments(s)
		}

		return a.parseSegments("user/" + s)
	}
}

// parseSegments validates and splits a slash-separated segment list. An
// empty string yields the root path.
func (a Address) parseSegments(s string) (ActorPath, error) {
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return a.RootPath(), nil
	}

	segs := strings.Split(s, "/")
	for _, seg := range segs {
		if !validName(seg) {
			return ActorPath{}, fmt.Errorf("%w: bad path "+
				"segment %q", ErrBadPath, seg)
		}
	}

	return ActorPath{Address: a, Segments: segs}, nil
}
