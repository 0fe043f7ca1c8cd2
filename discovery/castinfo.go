// Package discovery resolves cast receivers via mDNS and maintains a live
// registry of CastInfo descriptors that can be used to instantiate
// connections.
package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

// CastType classifies what a receiver primarily does. It is unknown from
// mDNS alone; callers complete it via an external DIAL probe, which this
// package does not provide.
type CastType string

const (
	CastTypeUnknown CastType = ""
	CastTypeVideo   CastType = "video"
	CastTypeAudio   CastType = "audio"
	CastTypeGroup   CastType = "group"
)

// ServiceKind distinguishes how a Service endpoint should be resolved.
type ServiceKind int

const (
	// ServiceMDNS resolves via the mDNS name at connect time.
	ServiceMDNS ServiceKind = iota
	// ServiceHost is a fixed (host, port) pair — either a resolved mDNS
	// address or a statically configured known host.
	ServiceHost
)

// Service is one way to reach a receiver, tried in order by the connection
// engine during connect.
type Service struct {
	Kind ServiceKind
	Name string // mDNS instance name, when Kind == ServiceMDNS
	Host string // when Kind == ServiceHost
	Port int    // when Kind == ServiceHost
}

func (s Service) String() string {
	if s.Kind == ServiceMDNS {
		return fmt.Sprintf("mdns:%s", s.Name)
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Capabilities decodes the mDNS "ca" TXT bitmask. It is informational only —
// cast_type/manufacturer classification always goes through the external
// DIAL probe, matching the reference implementation's get_cast_type.
type Capabilities struct {
	VideoOut bool
	VideoIn  bool
	AudioOut bool
	AudioIn  bool
	DevMode  bool
}

// CastInfo is an immutable-by-convention descriptor of a receiver. Discovery
// replaces it wholesale (never mutates in place) when a receiver's services
// change, so callers holding an old value never observe a half-updated one.
type CastInfo struct {
	UUID         uuid.UUID
	Services     []Service
	ModelName    string
	FriendlyName string
	Host         string
	Port         int
	CastType     CastType
	Manufacturer string
	Capabilities Capabilities
}

// WithCastType returns a copy of c with CastType/Manufacturer filled in —
// used by the façade after a lazy DIAL probe, per the engine's requirement
// to accept a CastInfo whose CastType is resolved lazily.
func (c CastInfo) WithCastType(t CastType, manufacturer string) CastInfo {
	c.CastType = t
	c.Manufacturer = manufacturer
	return c
}

// addStaticService appends a known-host service to c if no equivalent
// (host, port) service is already present, returning the possibly-updated
// value and whether it changed.
func (c CastInfo) addStaticService(host string, port int) (CastInfo, bool) {
	for _, s := range c.Services {
		if s.Kind == ServiceHost && s.Host == host && s.Port == port {
			return c, false
		}
	}
	c.Services = append(append([]Service(nil), c.Services...), Service{Kind: ServiceHost, Host: host, Port: port})
	return c, true
}

// snapshot is a UUID-keyed, mutex-guarded map of CastInfo, shared by the
// registry and tested independently of any mDNS machinery.
type snapshot struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]CastInfo
	names    map[string]uuid.UUID    // friendly_name -> uuid, for discover_listed by name
	lastSeen map[uuid.UUID]time.Time // last mDNS refresh, for staleness-based removal
}

func newSnapshot() *snapshot {
	return &snapshot{
		byID:     make(map[uuid.UUID]CastInfo),
		names:    make(map[string]uuid.UUID),
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

// stale returns ids whose last refresh is older than ttl, skipping any id in
// exclude (statically configured hosts are never considered stale).
func (s *snapshot) stale(ttl time.Duration, exclude map[uuid.UUID]struct{}) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []uuid.UUID
	for id, seen := range s.lastSeen {
		if _, skip := exclude[id]; skip {
			continue
		}
		if now.Sub(seen) > ttl {
			out = append(out, id)
		}
	}
	return out
}

func (s *snapshot) get(id uuid.UUID) (CastInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.byID[id]
	return info, ok
}

func (s *snapshot) put(info CastInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[info.UUID] = info
	s.lastSeen[info.UUID] = time.Now()
	if info.FriendlyName != "" {
		s.names[info.FriendlyName] = info.UUID
	}
}

func (s *snapshot) delete(id uuid.UUID) (CastInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		delete(s.lastSeen, id)
		for name, uid := range s.names {
			if uid == id {
				delete(s.names, name)
			}
		}
	}
	return info, ok
}

func (s *snapshot) list() []CastInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Values(s.byID)
}

func (s *snapshot) byName(name string) (CastInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[name]
	if !ok {
		return CastInfo{}, false
	}
	info, ok := s.byID[id]
	return info, ok
}
