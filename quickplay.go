package gocast

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/controller"
	"github.com/relaycast/gocast/controller/media"
)

// youtubeAppID is the published receiver app id for YouTube's CAF
// receiver; it happens to speak the same com.google.cast.media namespace
// as the default media receiver, so the YouTube adapter is just the media
// controller pointed at a different app id.
const youtubeAppID = "233637DE"

// quickPlayer is the subset of controller.Controller a quick-play adapter
// must additionally expose: a one-shot entry point taking the raw data
// dict quick-play callers pass in.
type quickPlayer interface {
	controller.Controller
	QuickPlay(data map[string]any, timeout time.Duration) error
}

// quickPlayFactories maps an app_name slug to a constructor for a fresh
// adapter instance; quick-play never reuses a Device's long-lived
// controllers; each call gets its own, registered only for the call's
// duration.
var quickPlayFactories = map[string]func() quickPlayer{
	"default_media_receiver": func() quickPlayer { return media.New(zerolog.Nop()) },
	"youtube":                func() quickPlayer { return media.NewWithApp(youtubeAppID, zerolog.Nop()) },
}

// QuickPlay instantiates the controller registered for appName, wires it
// onto d's engine, drives it with data, and unregisters it again — win or
// lose. Unknown app names return an error rather than panicking, so a
// caller iterating a playlist of mixed app names can skip what it doesn't
// recognize.
func QuickPlay(d *Device, appName string, data map[string]any, timeout time.Duration) error {
	factory, ok := quickPlayFactories[appName]
	if !ok {
		return fmt.Errorf("gocast: quick play: app %q not implemented", appName)
	}
	ctrl := factory()
	d.engine.RegisterController(ctrl)
	defer d.engine.UnregisterController(ctrl)
	return ctrl.QuickPlay(data, timeout)
}
