package receiver

// VolumeControlType describes how the receiver's volume can be adjusted.
type VolumeControlType string

const (
	VolumeControlAttenuation VolumeControlType = "attenuation"
	VolumeControlFixed       VolumeControlType = "fixed"
	VolumeControlMaster      VolumeControlType = "master"
)

// CastStatus is the parsed view of a RECEIVER_STATUS message: the
// platform's volume state plus, when an app is running, that app's
// identity and the namespaces it currently offers.
type CastStatus struct {
	IsActiveInput *bool // nil when unknown (the field is omitted for audio/group receivers)
	IsStandBy     *bool

	VolumeLevel float64
	VolumeMuted bool

	AppID        string
	DisplayName  string
	Namespaces   []string
	SessionID    string
	TransportID  string
	StatusText   string
	IconURL      string
	VolumeControl VolumeControlType
}

// Offers reports whether namespace is in the running app's namespace list.
func (s CastStatus) Offers(namespace string) bool {
	for _, ns := range s.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// LaunchFailure is the parsed view of a LAUNCH_ERROR message.
type LaunchFailure struct {
	Reason    string
	AppID     string
	RequestID int
}

// parseStatus builds a CastStatus from a decoded RECEIVER_STATUS payload.
// isAudioLike controls the default for the two fields ("isActiveInput",
// "isStandBy") the platform omits for audio/group receivers.
func parseStatus(payload map[string]any, isAudioLike bool) CastStatus {
	data, _ := payload["status"].(map[string]any)
	volumeData, _ := data["volume"].(map[string]any)

	var appData map[string]any
	if apps, ok := data["applications"].([]any); ok && len(apps) > 0 {
		appData, _ = apps[0].(map[string]any)
	}

	var namespaces []string
	if raw, ok := appData["namespaces"].([]any); ok {
		for _, n := range raw {
			if m, ok := n.(map[string]any); ok {
				if name, ok := m["name"].(string); ok {
					namespaces = append(namespaces, name)
				}
			}
		}
	}

	status := CastStatus{
		VolumeLevel:   floatOr(volumeData, "level", 1.0),
		VolumeMuted:   boolOr(volumeData, "muted", false),
		AppID:         stringOr(appData, "appId", ""),
		DisplayName:   stringOr(appData, "displayName", ""),
		Namespaces:    namespaces,
		SessionID:     stringOr(appData, "sessionId", ""),
		TransportID:   stringOr(appData, "transportId", ""),
		StatusText:    stringOr(appData, "statusText", ""),
		IconURL:       stringOr(appData, "iconUrl", ""),
		VolumeControl: VolumeControlType(stringOr(volumeData, "controlType", string(VolumeControlAttenuation))),
	}

	if isAudioLike {
		if v, ok := boolPtr(data, "isActiveInput"); ok {
			status.IsActiveInput = v
		}
		if v, ok := boolPtr(data, "isStandBy"); ok {
			status.IsStandBy = v
		}
	} else {
		if v, ok := boolPtr(data, "isActiveInput"); ok {
			status.IsActiveInput = v
		} else {
			f := false
			status.IsActiveInput = &f
		}
		t := true
		if v, ok := boolPtr(data, "isStandBy"); ok {
			status.IsStandBy = v
		} else {
			status.IsStandBy = &t
		}
	}
	return status
}

func parseLaunchFailure(payload map[string]any) LaunchFailure {
	reqID := 0
	if v, ok := payload["requestId"].(float64); ok {
		reqID = int(v)
	}
	return LaunchFailure{
		Reason:    stringOr(payload, "reason", ""),
		AppID:     stringOr(payload, "appId", ""),
		RequestID: reqID,
	}
}

func stringOr(m map[string]any, key, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func floatOr(m map[string]any, key string, def float64) float64 {
	if m == nil {
		return def
	}
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}

func boolOr(m map[string]any, key string, def bool) bool {
	if m == nil {
		return def
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func boolPtr(m map[string]any, key string) (*bool, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key].(bool)
	if !ok {
		return nil, false
	}
	return &v, true
}
