//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"bledom-go-home/internal/model"
	"bledom-go-home/internal/store"
)

// Home Assistant mired bounds for the emulated white curve (1e6/kelvin).
const (
	minMireds = 143 // 7000 K
	maxMireds = 556 // 1800 K
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/bledom_BE.../light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	MinMireds           int      `json:"min_mireds,omitempty"`
	MaxMireds           int      `json:"max_mireds,omitempty"`
	Options             []string `json:"options,omitempty"`
	Min                 int      `json:"min,omitempty"`
	Max                 int      `json:"max,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Optimistic          bool     `json:"optimistic,omitempty"`
	Device              haDevice `json:"device"`
}

// lightDiscovery is the JSON-schema light payload; it needs the effect flag
// and list shape HA expects.
type lightDiscovery struct {
	haDiscovery
	Effect     bool     `json:"effect"`
	EffectList []string `json:"effect_list,omitempty"`
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	if dev.Name != "" {
		return dev.Name
	}
	return dev.Address
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(dev *store.Device) string {
	addr := strings.Map(func(r rune) rune {
		if r == ':' {
			return '_'
		}
		return r
	}, dev.Address)
	return "bledom_" + addr
}

// deviceTopicName returns the topic name for a device (friendly name or address).
func deviceTopicName(dev *store.Device) string {
	if dev.FriendlyName != "" {
		// Sanitize: lowercase and keep only safe chars for MQTT topics.
		name := strings.ToLower(dev.FriendlyName)
		name = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
				return r
			}
			return '_'
		}, name)
		return name
	}
	return deviceIdentifier(dev)
}

// buildDiscovery generates HA discovery messages for a device based on its
// model capabilities.
func buildDiscovery(dev *store.Device, desc *model.Descriptor, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(dev)
	nodeID := deviceIdentifier(dev)
	displayName := deviceDisplayName(dev)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "ELK-BLEDOM",
		Model:        desc.Prefix,
		Name:         displayName,
	}

	msgs := []discoveryMsg{
		buildLight(nodeID, displayName, stateTopic, avail, haDev, prefix, dev, desc),
	}

	if desc.HasMicEffects {
		msgs = append(msgs,
			buildMicSwitch(nodeID, displayName, stateTopic, avail, haDev, prefix, dev),
			buildMicEffectSelect(nodeID, displayName, avail, haDev, prefix, dev),
			buildMicSensitivityNumber(nodeID, displayName, avail, haDev, prefix, dev),
		)
	}

	return msgs
}

func buildLight(nodeID, displayName, stateTopic, avail string, haDev haDevice, prefix string, dev *store.Device, desc *model.Descriptor) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/light/%s/light/config", nodeID)
	cmdTopic := prefix + "/" + deviceTopicName(dev) + "/set"
	payload := lightDiscovery{
		haDiscovery: haDiscovery{
			Name:                displayName,
			UniqueID:            nodeID + "_light",
			StateTopic:          stateTopic,
			CommandTopic:        cmdTopic,
			AvailabilityTopic:   avail,
			SupportedColorModes: []string{"rgb", "color_temp"},
			BrightnessScale:     255,
			MinMireds:           minMireds,
			MaxMireds:           maxMireds,
			Schema:              "json",
			// The hardware has no read-back; everything we report is the
			// last commanded state.
			Optimistic: true,
			Device:     haDev,
		},
	}
	if desc.HasEffects {
		payload.Effect = true
		payload.EffectList = model.EffectNames()
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildMicSwitch(nodeID, displayName, stateTopic, avail string, haDev haDevice, prefix string, dev *store.Device) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/switch/%s/mic/config", nodeID)
	cmdTopic := prefix + "/" + deviceTopicName(dev) + "/mic/set"
	payload := haDiscovery{
		Name:              displayName + " Mic",
		UniqueID:          nodeID + "_mic",
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ 'ON' if value_json.mic_enabled else 'OFF' }}",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildMicEffectSelect(nodeID, displayName, avail string, haDev haDevice, prefix string, dev *store.Device) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/select/%s/mic_effect/config", nodeID)
	cmdTopic := prefix + "/" + deviceTopicName(dev) + "/mic_effect/set"
	options := make([]string, 0, len(model.MicEffects))
	for id := uint8(0x80); id <= 0x87; id++ {
		options = append(options, model.MicEffects[id])
	}
	payload := haDiscovery{
		Name:              displayName + " Mic Effect",
		UniqueID:          nodeID + "_mic_effect",
		StateTopic:        prefix + "/" + deviceTopicName(dev),
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.mic_effect }}",
		Options:           options,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildMicSensitivityNumber(nodeID, displayName, avail string, haDev haDevice, prefix string, dev *store.Device) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/number/%s/mic_sensitivity/config", nodeID)
	cmdTopic := prefix + "/" + deviceTopicName(dev) + "/mic_sensitivity/set"
	payload := haDiscovery{
		Name:              displayName + " Mic Sensitivity",
		UniqueID:          nodeID + "_mic_sensitivity",
		StateTopic:        prefix + "/" + deviceTopicName(dev),
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		Min:               0,
		Max:               100,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages to remove a device
// from HA.
func buildRemoveDiscovery(dev *store.Device) []discoveryMsg {
	nodeID := deviceIdentifier(dev)

	// Remove all possible component types.
	components := []struct{ comp, obj string }{
		{"light", "light"},
		{"switch", "mic"},
		{"select", "mic_effect"},
		{"number", "mic_sensitivity"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
