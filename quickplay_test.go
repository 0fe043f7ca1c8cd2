package gocast

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relaycast/gocast/discovery"
)

func testDevice() *Device {
	return New(discovery.CastInfo{UUID: uuid.New()})
}

func TestQuickPlayUnknownAppNameErrors(t *testing.T) {
	d := testDevice()
	if err := QuickPlay(d, "not-a-real-app", nil, time.Second); err == nil {
		t.Fatal("expected an error for an unregistered app name")
	}
}

func TestQuickPlayFailsFastWhenDeviceNotConnected(t *testing.T) {
	d := testDevice()
	if err := QuickPlay(d, "default_media_receiver", map[string]any{"content_id": "x"}, 200*time.Millisecond); err == nil {
		t.Fatal("expected an error: the device was never connected")
	}
}
