// SPDX-License-Identifier: MIT

// Package filterbuild builds the ffmpeg -filter:v graphs the Stage
// Orchestrator needs for the two interpolation passes and the final
// assemble stage. It replaces the spec's observed "build argv by
// string concatenation in several places" pattern (Design Notes) with
// one typed builder: each stage of the chain (in, decim, middle,
// interp, out) is a method call, and the graph is rendered once.
package filterbuild

import (
	"fmt"
	"strings"
)

// Chain accumulates filter stages in order and renders them once,
// comma-joined, as a single -filter:v argument.
type Chain struct {
	stages []string
}

// New starts an empty Chain.
func New() *Chain {
	return &Chain{}
}

// Normalize enforces even output dimensions and full-range scaling,
// the common prefix every stage's chain shares (spec §4.4).
func (c *Chain) Normalize() *Chain {
	c.stages = append(c.stages, "scale=trunc(iw/2)*2:trunc(ih/2)*2:in_range=full:out_range=full")
	return c
}

// Decimate inserts the mpdecimate filter, parameterised per stage.
func (c *Chain) Decimate(max int, frac float64) *Chain {
	c.stages = append(c.stages, fmt.Sprintf("mpdecimate=max=%d:frac=%.3f", max, frac))
	return c
}

// LibplaceboMix is the high-quality mixer used whenever the spec calls
// for "the high-quality filter": hardware-accelerated frame mixing at
// targetFPS. This is the filter family known to wedge occasionally
// (spec §4.3's freeze rationale); MinterpolateDup (up-pass) and
// MinterpolateAOBMC (down-pass) are its fallbacks.
func (c *Chain) LibplaceboMix(targetFPS int) *Chain {
	c.stages = append(c.stages,
		fmt.Sprintf("libplacebo=fps=%d:frame_mixer=mitchell", targetFPS))
	return c
}

// NoMixer is the cheap passthrough path used when the source is
// already at or below the target rate: it simply re-times frames to
// targetFPS without a quality mixer.
func (c *Chain) NoMixer(targetFPS int) *Chain {
	c.stages = append(c.stages, fmt.Sprintf("fps=%d", targetFPS))
	return c
}

// MinterpolateDup is the alt-algorithm for the up-pass: classic
// motion-compensated minterpolate in duplicate-frame mode, the
// fallback chosen after a freeze restart (spec §4.3 step 5, §4.4
// "Up-pass ... Alt-algorithm variant").
func (c *Chain) MinterpolateDup(targetFPS int) *Chain {
	c.stages = append(c.stages,
		fmt.Sprintf("minterpolate=fps=%d:mi_mode=dup", targetFPS))
	return c
}

// MinterpolateAOBMC is the alt-algorithm for the down-pass: classic
// motion-compensated minterpolate with adaptive overlapped block
// motion compensation and bidirectional, variable-size block matching
// (spec §4.4 "Down-pass ... Alt variant").
func (c *Chain) MinterpolateAOBMC(targetFPS int) *Chain {
	c.stages = append(c.stages,
		fmt.Sprintf("minterpolate=fps=%d:mi_mode=mci:mc_mode=aobmc:vsbmc=1", targetFPS))
	return c
}

// FPSRoundNear appends an explicit CFR-enforcing fps filter, used only
// by the final assemble stage (spec §4.4).
func (c *Chain) FPSRoundNear(targetFPS int) *Chain {
	c.stages = append(c.stages, fmt.Sprintf("fps=%d:round=near", targetFPS))
	return c
}

// OutputScale preserves full chroma and accurate rounding on the way
// out of the chain (spec §4.4 "Output scaling filter").
func (c *Chain) OutputScale() *Chain {
	c.stages = append(c.stages, "scale=out_range=full:flags=accurate_rnd+full_chroma_int")
	return c
}

// String renders the chain as a single comma-joined -filter:v value.
func (c *Chain) String() string {
	return strings.Join(c.stages, ",")
}

// UpPass builds the source->iup filter chain. If alt is set the
// alternate minterpolate family is used regardless of the
// source/target comparison (spec §4.4: alt-algorithm restart always
// overrides the ordinary mixer choice).
func UpPass(sourceFPS float64, targetMaxFPS int, decimMax int, decimFrac float64, alt bool) string {
	c := New().Normalize().Decimate(decimMax, decimFrac)
	switch {
	case alt:
		c.MinterpolateDup(targetMaxFPS)
	case sourceFPS > float64(targetMaxFPS):
		c.LibplaceboMix(targetMaxFPS)
	default:
		c.NoMixer(targetMaxFPS)
	}
	return c.OutputScale().String()
}

// DownPass builds the iup->idn filter chain: always the high-quality
// mixer at targetFPS, or its alt-algorithm fallback.
func DownPass(targetFPS int, decimMax int, decimFrac float64, alt bool) string {
	c := New().Normalize().Decimate(decimMax, decimFrac)
	if alt {
		c.MinterpolateAOBMC(targetFPS)
	} else {
		c.LibplaceboMix(targetFPS)
	}
	return c.OutputScale().String()
}

// Assemble builds the final container's video filter chain. anyDropDup
// is the job-wide carry of whether any stage observed a drop/dup frame
// (spec §4.4 and §5: "the carry is write-once-per-stage and monotonic").
// When true the high-quality mixer is used to re-smooth the result;
// otherwise the cheap passthrough is enough, since nothing needs
// correcting. Either way an explicit fps:round=near enforces CFR output.
func Assemble(targetFPS int, anyDropDup bool) string {
	c := New().Normalize()
	if anyDropDup {
		c.LibplaceboMix(targetFPS)
	} else {
		c.NoMixer(targetFPS)
	}
	c.FPSRoundNear(targetFPS)
	return c.OutputScale().String()
}
