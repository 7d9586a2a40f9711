package portaudio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"
)

// DeviceInfo describes one PortAudio device.
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// Devices lists the devices PortAudio can see. The library must be
// initialised, i.e. a [Device] must be open.
func Devices() ([]DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var defIn, defOut string
	if d, err := pa.DefaultInputDevice(); err == nil && d != nil {
		defIn = d.Name
	}
	if d, err := pa.DefaultOutputDevice(); err == nil && d != nil {
		defOut = d.Name
	}

	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      d.Name == defIn,
			DefaultOutput:     d.Name == defOut,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}
