package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

const (
	serviceName = "_googlecast._tcp"
	domain      = "local."

	// staleTTL is how long a receiver may go unseen in mDNS browse results
	// before Registry treats it as removed. grandcat/zeroconf re-announces
	// entries roughly every browse interval rather than emitting explicit
	// goodbye events, so removal is staleness-detected rather than pushed.
	staleTTL = 90 * time.Second

	sweepInterval = 15 * time.Second
)

// AddListener is called when a new receiver is first seen.
type AddListener func(id uuid.UUID, name string)

// UpdateListener is called when an already-known receiver's services change.
type UpdateListener func(id uuid.UUID, name string)

// RemoveListener is called when a receiver disappears from mDNS. lastInfo is
// the descriptor as last known, so callers can still address it (e.g. to
// tear down a live connection).
type RemoveListener func(id uuid.UUID, name string, lastInfo CastInfo)

// Registry browses _googlecast._tcp.local. and maintains a live
// UUID-keyed CastInfo map, plus any statically configured known hosts.
// Zero value is not usable; construct with NewRegistry.
type Registry struct {
	logger zerolog.Logger

	snap *snapshot

	mu            sync.Mutex
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	staticKeys    map[uuid.UUID]struct{} // ids that came from known hosts, never dropped on mDNS removal
	browseLimiter *rate.Limiter           // throttles retrying resolver creation/browse setup

	listenersMu sync.RWMutex
	onAdd       []AddListener
	onUpdate    []UpdateListener
	onRemove    []RemoveListener
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger attaches a logger; the zero value discards all output.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry constructs a Registry that is not yet browsing; call Start.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		snap:          newSnapshot(),
		staticKeys:    make(map[uuid.UUID]struct{}),
		logger:        zerolog.Nop(),
		browseLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KnownHost is a statically configured (host, port) receiver address, used
// when mDNS is unavailable or a receiver is otherwise known in advance.
type KnownHost struct {
	Name string // friendly name to show callers; not part of the UUID seed (see knownHostUUID)
	Host string
	Port int
}

// knownHostUUID derives a stable UUID for a known host from its address, so
// the same static entry always maps to the same CastInfo.UUID across runs.
func knownHostUUID(h KnownHost) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("known-host:%s:%d", h.Host, h.Port)))
}

// OnAdd registers a callback invoked when a new receiver is first seen.
func (r *Registry) OnAdd(fn AddListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.onAdd = append(r.onAdd, fn)
}

// OnUpdate registers a callback invoked when a known receiver's services change.
func (r *Registry) OnUpdate(fn UpdateListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.onUpdate = append(r.onUpdate, fn)
}

// OnRemove registers a callback invoked when a receiver disappears from mDNS.
func (r *Registry) OnRemove(fn RemoveListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

func (r *Registry) fireAdd(id uuid.UUID, name string) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.onAdd {
		fn(id, name)
	}
}

func (r *Registry) fireUpdate(id uuid.UUID, name string) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.onUpdate {
		fn(id, name)
	}
}

func (r *Registry) fireRemove(id uuid.UUID, name string, last CastInfo) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.onRemove {
		fn(id, name, last)
	}
}

// Start begins background mDNS browsing and pre-populates the registry with
// knownHosts (immediately visible, resolvable without mDNS). Calling Start
// twice without an intervening Stop is a no-op.
func (r *Registry) Start(knownHosts ...KnownHost) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	for _, h := range knownHosts {
		id := knownHostUUID(h)
		r.mu.Lock()
		r.staticKeys[id] = struct{}{}
		r.mu.Unlock()
		info := CastInfo{
			UUID:         id,
			FriendlyName: h.Name,
			Host:         h.Host,
			Port:         h.Port,
			Services:     []Service{{Kind: ServiceHost, Host: h.Host, Port: h.Port}},
		}
		r.snap.put(info)
		r.fireAdd(id, h.Name)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := r.startBrowse(ctx, entries); err != nil {
		cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(ctx, entries)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweepStale(ctx)
	}()

	return nil
}

// maxBrowseSetupAttempts bounds the rate-limited retry loop so a
// permanently broken resolver (no multicast interface, sandboxed network)
// fails Start rather than hanging forever behind the limiter.
const maxBrowseSetupAttempts = 3

// startBrowse creates a resolver and starts browsing, retrying setup
// failures a bounded number of times through browseLimiter so a flaky
// network interface doesn't spin unthrottled resolver creation.
func (r *Registry) startBrowse(ctx context.Context, entries chan *zeroconf.ServiceEntry) error {
	var lastErr error
	for attempt := 0; attempt < maxBrowseSetupAttempts; attempt++ {
		if attempt > 0 {
			if err := r.browseLimiter.Wait(ctx); err != nil {
				return fmt.Errorf("discovery: browse retry cancelled: %w", err)
			}
		}

		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			lastErr = fmt.Errorf("discovery: create resolver: %w", err)
			r.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("discovery: resolver creation failed, retrying")
			continue
		}
		if err := resolver.Browse(ctx, serviceName, domain, entries); err != nil {
			lastErr = fmt.Errorf("discovery: browse: %w", err)
			r.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("discovery: browse setup failed, retrying")
			continue
		}
		return nil
	}
	return lastErr
}

// sweepStale periodically removes receivers that have not been refreshed by
// mDNS within staleTTL. Statically configured known hosts are exempt —
// "removal must not drop a statically configured host".
func (r *Registry) sweepStale(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			exclude := make(map[uuid.UUID]struct{}, len(r.staticKeys))
			for id := range r.staticKeys {
				exclude[id] = struct{}{}
			}
			r.mu.Unlock()

			for _, id := range r.snap.stale(staleTTL, exclude) {
				if last, ok := r.snap.delete(id); ok {
					r.fireRemove(id, last.FriendlyName, last)
				}
			}
		}
	}
}

// AddKnownHost registers a static host at any time, not just at Start. If a
// CastInfo with the same derived UUID already exists (the same host:port was
// added before), its Services are kept and the host is appended only if no
// equal Service is listed yet. The derived UUID never equals a receiver's mDNS-advertised
// UUID, so a known host is not merged into an mDNS-discovered entry for the
// same receiver; the two stay separate entries.
func (r *Registry) AddKnownHost(h KnownHost) {
	id := knownHostUUID(h)
	r.mu.Lock()
	r.staticKeys[id] = struct{}{}
	r.mu.Unlock()

	if existing, ok := r.snap.get(id); ok {
		merged, changed := existing.addStaticService(h.Host, h.Port)
		if changed {
			r.snap.put(merged)
			r.fireUpdate(id, merged.FriendlyName)
		}
		return
	}

	info := CastInfo{
		UUID:         id,
		FriendlyName: h.Name,
		Host:         h.Host,
		Port:         h.Port,
		Services:     []Service{{Kind: ServiceHost, Host: h.Host, Port: h.Port}},
	}
	r.snap.put(info)
	r.fireAdd(id, h.Name)
}

// Stop cancels background browsing. Known hosts remain in the snapshot.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// List returns a snapshot of all currently known CastInfos, sorted by UUID
// for deterministic output.
func (r *Registry) List() []CastInfo {
	infos := r.snap.list()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UUID.String() < infos[j].UUID.String()
	})
	return infos
}

// Get returns the current CastInfo for id, if known.
func (r *Registry) Get(id uuid.UUID) (CastInfo, bool) {
	return r.snap.get(id)
}

// DiscoverListed blocks until every name in names and every uuid in uuids is
// present in the registry, or timeout elapses, returning whichever matching
// CastInfos were found (possibly a partial set on timeout).
func (r *Registry) DiscoverListed(ctx context.Context, names []string, uuids []uuid.UUID, timeout time.Duration) ([]CastInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	found := make([]CastInfo, 0, len(names)+len(uuids))
	var mu sync.Mutex

	poll := func(match func() (CastInfo, bool)) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			if info, ok := match(); ok {
				mu.Lock()
				found = append(found, info)
				mu.Unlock()
				return nil
			}
			select {
			case <-ctx.Done():
				return nil // timeout/cancel: caller decides whether a partial set is acceptable
			case <-ticker.C:
			}
		}
	}

	for _, name := range names {
		name := name
		g.Go(func() error {
			return poll(func() (CastInfo, bool) { return r.snap.byName(name) })
		})
	}
	for _, id := range uuids {
		id := id
		g.Go(func() error {
			return poll(func() (CastInfo, bool) { return r.snap.get(id) })
		})
	}

	_ = g.Wait() // poll never returns an error; only nil or context cancellation
	return found, nil
}

// consume drains resolved service entries into the snapshot until ctx is
// done, firing add/update/remove callbacks as appropriate.
func (r *Registry) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	seen := make(map[uuid.UUID]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			id, info, ok := entryToCastInfo(entry)
			if !ok {
				r.logger.Debug().Str("instance", entry.Instance).Msg("discovery: entry missing id TXT field, dropping")
				continue
			}
			_, existed := r.snap.get(id)
			r.snap.put(info)
			seen[id] = struct{}{}
			if existed {
				r.fireUpdate(id, info.FriendlyName)
			} else {
				r.fireAdd(id, info.FriendlyName)
			}
		}
	}
}

// entryToCastInfo parses a resolved mDNS entry's TXT record into a
// CastInfo. TXT keys read: id, fn, md, ca; rs (status text) is not used.
func entryToCastInfo(entry *zeroconf.ServiceEntry) (uuid.UUID, CastInfo, bool) {
	txt := parseTXT(entry.Text)

	rawID, ok := txt["id"]
	if !ok || rawID == "" {
		return uuid.UUID{}, CastInfo{}, false
	}
	id, err := parseReceiverUUID(rawID)
	if err != nil {
		return uuid.UUID{}, CastInfo{}, false
	}

	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}

	friendly := norm.NFC.String(txt["fn"])
	videoOut, videoIn, audioOut, audioIn, devMode := capabilityFlags(txt["ca"])

	info := CastInfo{
		UUID:         id,
		ModelName:    txt["md"],
		FriendlyName: friendly,
		Host:         host,
		Port:         entry.Port,
		Capabilities: Capabilities{VideoOut: videoOut, VideoIn: videoIn, AudioOut: audioOut, AudioIn: audioIn, DevMode: devMode},
		Services: []Service{
			{Kind: ServiceMDNS, Name: entry.Instance},
			{Kind: ServiceHost, Host: host, Port: entry.Port},
		},
	}
	return id, info, true
}

// parseReceiverUUID accepts both hyphenated and bare-hex mDNS "id" values;
// real receivers advertise the bare-hex form.
func parseReceiverUUID(raw string) (uuid.UUID, error) {
	if u, err := uuid.Parse(raw); err == nil {
		return u, nil
	}
	if len(raw) == 32 {
		hyphenated := fmt.Sprintf("%s-%s-%s-%s-%s", raw[0:8], raw[8:12], raw[12:16], raw[16:20], raw[20:32])
		return uuid.Parse(hyphenated)
	}
	return uuid.UUID{}, fmt.Errorf("discovery: invalid id TXT value %q", raw)
}

// parseTXT splits "key=value" TXT record entries into a map, matching how
// the rest of the pack (and mDNS itself) represents TXT records.
func parseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, found := strings.Cut(f, "=")
		if !found {
			continue
		}
		out[k] = v
	}
	return out
}

// capabilityFlags decodes the "ca" TXT field, a small bitmask of receiver
// capabilities (video_out, video_in, audio_out, audio_in, dev_mode),
// matching the layout pychromecast's discovery documents informally.
func capabilityFlags(raw string) (videoOut, videoIn, audioOut, audioIn, devMode bool) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	videoOut = n&1 != 0
	videoIn = n&2 != 0
	audioOut = n&4 != 0
	audioIn = n&8 != 0
	devMode = n&32 != 0
	return
}
