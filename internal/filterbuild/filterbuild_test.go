// SPDX-License-Identifier: MIT

package filterbuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpPassChoosesMixerBySourceFPS(t *testing.T) {
	hq := UpPass(144, 120, 16, 0.33, false)
	assert.Contains(t, hq, "libplacebo")

	cheap := UpPass(30, 120, 16, 0.33, false)
	assert.Contains(t, cheap, "fps=120")
	assert.NotContains(t, cheap, "libplacebo")
}

func TestUpPassAltOverridesMixerChoice(t *testing.T) {
	alt := UpPass(120, 120, 16, 0.33, true)
	assert.Contains(t, alt, "minterpolate=fps=120:mi_mode=dup")
	assert.NotContains(t, alt, "libplacebo")
}

func TestDownPassAlwaysHighQualityUnlessAlt(t *testing.T) {
	normal := DownPass(60, 16, 0.33, false)
	assert.Contains(t, normal, "libplacebo=fps=60")

	alt := DownPass(60, 16, 0.33, true)
	assert.Contains(t, alt, "minterpolate=fps=60:mi_mode=mci:mc_mode=aobmc")
}

func TestAssembleFilterChoiceFollowsDropDups(t *testing.T) {
	clean := Assemble(60, false)
	assert.Contains(t, clean, "fps=60")
	assert.NotContains(t, clean, "libplacebo")
	assert.Contains(t, clean, "round=near")

	dirty := Assemble(60, true)
	assert.Contains(t, dirty, "libplacebo=fps=60")
	assert.Contains(t, dirty, "round=near")
}

func TestChainRendersCommaJoined(t *testing.T) {
	s := New().Normalize().Decimate(16, 0.33).NoMixer(60).OutputScale().String()
	parts := strings.Split(s, ",")
	assert.Len(t, parts, 4)
}
