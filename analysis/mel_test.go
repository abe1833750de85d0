package analysis

import (
	"testing"
)

func newTestMel() *MelBandExtractor {
	cfg := DefaultConfig()
	spectral := NewSpectralFrameExtractor(cfg.Spectral, cfg.SampleRate)
	return NewMelBandExtractor(cfg.Mel, spectral)
}

func TestMelFrameCountLongSignal(t *testing.T) {
	if testing.Short() {
		t.Skip("long-signal frame count test")
	}

	// 180s at a 0.1s cadence gives 1800 frame slots; with a 1024-sample
	// window at 22050 Hz every slot has a complete window.
	mel := newTestMel()
	sig := &Signal{Samples: make([]float64, 180*22050), SampleRate: 22050}

	frames := mel.Extract(sig)
	if len(frames) != 1800 {
		t.Errorf("Extract on 180s signal = %d frames, want 1800", len(frames))
	}
}

func TestMelDropsIncompleteTrailingWindow(t *testing.T) {
	mel := newTestMel()

	// One full window plus a partial second slot: only the first frame
	// survives, the trailing partial window is discarded.
	sig := &Signal{Samples: make([]float64, 1024+500), SampleRate: 22050}
	frames := mel.Extract(sig)
	if len(frames) != 1 {
		t.Errorf("Extract = %d frames, want 1", len(frames))
	}

	// Shorter than a single window: nothing to emit.
	sig = &Signal{Samples: make([]float64, 1000), SampleRate: 22050}
	if frames := mel.Extract(sig); len(frames) != 0 {
		t.Errorf("Extract on sub-window signal = %d frames, want 0", len(frames))
	}
}

func TestMelBandShape(t *testing.T) {
	mel := newTestMel()
	sig := makeSine(440.0, 0.5, 22050)

	frames := mel.Extract(sig)
	if len(frames) == 0 {
		t.Fatal("no mel frames extracted")
	}

	for i, frame := range frames {
		if len(frame.Bands) != 40 {
			t.Fatalf("frame %d has %d bands, want 40", i, len(frame.Bands))
		}
		for b, v := range frame.Bands {
			if v < 0 {
				t.Fatalf("frame %d band %d = %v, log compression must stay non-negative", i, b, v)
			}
		}
	}
}

func TestMelSilenceIsZero(t *testing.T) {
	mel := newTestMel()
	sig := &Signal{Samples: make([]float64, 22050), SampleRate: 22050}

	frames := mel.Extract(sig)
	if len(frames) == 0 {
		t.Fatal("no mel frames extracted from silence")
	}
	for i, frame := range frames {
		for b, v := range frame.Bands {
			if v != 0 {
				t.Errorf("silent frame %d band %d = %v, want 0", i, b, v)
			}
		}
	}
}

func TestMelTimesFollowCadence(t *testing.T) {
	mel := newTestMel()
	sig := &Signal{Samples: make([]float64, 22050), SampleRate: 22050}

	frames := mel.Extract(sig)
	for i, frame := range frames {
		want := float64(i) * 0.1
		if diff := frame.Time - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("frame %d time = %v, want %v", i, frame.Time, want)
		}
	}
}
