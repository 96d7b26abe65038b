package mcu

import (
	"fmt"

	"github.com/robotalks/canlink.go/pkg/status"
)

// Clock and bit-timing constants of the target controller.
const (
	PCLK             = 48000000
	DefaultPrescaler = 12

	minQuanta = 4  // SYNC + BS1(min 2) + BS2(min 1)
	maxQuanta = 25 // SYNC + BS1(max 16) + BS2(max 8)
	maxBS1    = 16
	maxBS2    = 8
	maxBRP    = 1024
)

// Timing is a bit-timing configuration in time quanta.
type Timing struct {
	Prescaler uint16
	SJW       uint8
	BS1       uint8
	BS2       uint8
}

// ComputeTiming derives bit timing for bitrate (kbps) from a peripheral clock
// in Hz. It starts at DefaultPrescaler and doubles it until a bit fits the
// segment registers, placing the sample point at 7/8 of the bit.
func ComputeTiming(pclk uint32, bitrate uint16) (Timing, error) {
	if bitrate == 0 {
		return Timing{}, status.Codef(status.InvalidArgs, "mcu: zero bitrate")
	}
	for brp := uint32(DefaultPrescaler); brp <= maxBRP; brp *= 2 {
		quanta := pclk / brp / (uint32(bitrate) * 1000)
		if quanta < minQuanta {
			break
		}
		if quanta > maxQuanta {
			continue
		}
		bs1 := quanta*7/8 - 1
		bs2 := quanta - 1 - bs1
		if bs1 > maxBS1 {
			bs2 += bs1 - maxBS1
			bs1 = maxBS1
		}
		if bs2 > maxBS2 || bs2 == 0 {
			continue
		}
		return Timing{Prescaler: uint16(brp), SJW: 1, BS1: uint8(bs1), BS2: uint8(bs2)}, nil
	}
	return Timing{}, status.Codef(status.InvalidArgs, "mcu: bitrate %d kbps not reachable from %d Hz", bitrate, pclk)
}

// Quanta is the number of time quanta per bit.
func (t Timing) Quanta() uint32 {
	return 1 + uint32(t.BS1) + uint32(t.BS2)
}

// Bitrate is the resulting bitrate in bps for a peripheral clock.
func (t Timing) Bitrate(pclk uint32) uint32 {
	if t.Prescaler == 0 {
		return 0
	}
	return pclk / uint32(t.Prescaler) / t.Quanta()
}

// SamplePoint is the sample point as a fraction of the bit time.
func (t Timing) SamplePoint() float64 {
	return float64(1+uint32(t.BS1)) / float64(t.Quanta())
}

// BTR encodes the timing as the bit timing register value.
func (t Timing) BTR() uint32 {
	return uint32(t.SJW-1)<<24 |
		uint32(t.BS2-1)<<20 |
		uint32(t.BS1-1)<<16 |
		uint32(t.Prescaler-1)
}

func (t Timing) String() string {
	return fmt.Sprintf("brp=%d sjw=%d bs1=%d bs2=%d sp=%.1f%%",
		t.Prescaler, t.SJW, t.BS1, t.BS2, t.SamplePoint()*100)
}
