package connection

import "time"

// connectionNamespace is the implicit virtual-channel bracketing namespace;
// every destination_id must see a CONNECT before any other message and a
// CLOSE when the engine is done with it.
const connectionNamespace = "urn:x-cast:com.google.cast.tp.connection"

// platformDestinationID is the fixed destination for the receiver platform
// itself, as opposed to a launched app's transport id.
const platformDestinationID = "receiver-0"

// appChannelOpenDelay overrides the default (no delay) gap between a
// RECEIVER_STATUS naming a new app and the engine opening that app's media
// channel. The "Audible" receiver app is flaky if its media channel CONNECT
// races the cast status that announced it.
var appChannelOpenDelay = map[string]time.Duration{
	"":          0,
	"audible":   1 * time.Second,
}

// channelOpenDelayFor returns the configured delay for appID, 0 if none.
func channelOpenDelayFor(appID string) time.Duration {
	return appChannelOpenDelay[appID]
}

// openChannels is a simple set with no lock of its own; the Engine guards
// every access with its mu (see Engine's concurrency note).
type openChannels struct {
	ids map[string]struct{}
}

func newOpenChannels() *openChannels {
	return &openChannels{ids: make(map[string]struct{})}
}

func (o *openChannels) has(id string) bool {
	_, ok := o.ids[id]
	return ok
}

func (o *openChannels) add(id string) { o.ids[id] = struct{}{} }

func (o *openChannels) remove(id string) { delete(o.ids, id) }

func (o *openChannels) all() []string {
	out := make([]string, 0, len(o.ids))
	for id := range o.ids {
		out = append(out, id)
	}
	return out
}

func (o *openChannels) reset() {
	o.ids = make(map[string]struct{})
}
