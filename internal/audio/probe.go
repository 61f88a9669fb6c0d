package audio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// ProbeConfig is the fixed sample configuration used to test the input device.
type ProbeConfig struct {
	SampleRate int
	Channels   int
}

// captureDevice is the part of a malgo device the probe needs.
type captureDevice interface {
	Start() error
	IsStarted() bool
	Stop() error
}

// openFunc acquires a capture device; release must always be called once open succeeds.
type openFunc func(cfg ProbeConfig) (dev captureDevice, release func(), err error)

// Probe checks microphone availability by briefly opening a raw capture device.
type Probe struct {
	cfg  ProbeConfig
	open openFunc
	log  zerolog.Logger
}

// NewMalgoProbe returns a probe backed by miniaudio.
func NewMalgoProbe(cfg ProbeConfig, logger zerolog.Logger) *Probe {
	return newProbe(cfg, openMalgoDevice, logger)
}

func newProbe(cfg ProbeConfig, open openFunc, logger zerolog.Logger) *Probe {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Probe{cfg: cfg, open: open, log: logger.With().Str("component", "mic_probe").Logger()}
}

// IsAvailable opens the device, confirms it reports an active recording state,
// and releases it. Any failure, including a panic in the audio backend, counts
// as unavailable.
func (p *Probe) IsAvailable(ctx context.Context) (available bool) {
	if ctx.Err() != nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("microphone probe panicked")
			available = false
		}
	}()

	dev, release, err := p.open(p.cfg)
	if err != nil {
		p.log.Warn().Err(err).Msg("microphone could not be opened")
		return false
	}
	defer release()

	if err := dev.Start(); err != nil {
		p.log.Warn().Err(err).Msg("microphone could not start recording")
		return false
	}
	recording := dev.IsStarted()
	if err := dev.Stop(); err != nil {
		p.log.Debug().Err(err).Msg("microphone stop after probe failed")
	}

	p.log.Debug().
		Bool("recording", recording).
		Int("sample_rate", p.cfg.SampleRate).
		Int("channels", p.cfg.Channels).
		Msg("microphone probed")
	return recording
}

func openMalgoDevice(cfg ProbeConfig) (captureDevice, func(), error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("init audio context: %w", err)
	}
	releaseContext := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, _ []byte, _ uint32) {},
	})
	if err != nil {
		releaseContext()
		return nil, nil, fmt.Errorf("init capture device: %w", err)
	}

	return device, func() {
		device.Uninit()
		releaseContext()
	}, nil
}
