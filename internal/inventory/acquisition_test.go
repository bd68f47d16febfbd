package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSceneID(t *testing.T) {
	t.Parallel()

	acq, err := ParseSceneID("S1A_IW_SLC__1SDV_20200103T051025_20200103T051053_030639_038280_1A12")
	require.NoError(t, err)

	assert.Equal(t, "S1A", acq.Platform)
	assert.Equal(t, "IW", acq.BeamMode)
	assert.Equal(t, "SLC", acq.Product)
	assert.Equal(t, "DV", acq.Polarisation)
	assert.Equal(t, "20200103", acq.Date())
	assert.Equal(t, 30639, acq.AbsoluteOrbit)
	// (30639 - 73) % 175 + 1
	assert.Equal(t, 117, acq.RelativeOrbit)
}

func TestParseSceneIDPlatformPhase(t *testing.T) {
	t.Parallel()

	a, err := ParseSceneID("S1A_IW_SLC__1SDV_20200103T051025_20200103T051053_030639_038280_1A12")
	require.NoError(t, err)
	b, err := ParseSceneID("S1B_IW_SLC__1SDV_20200109T051025_20200109T051053_019743_025456_2B34")
	require.NoError(t, err)
	// S1A and S1B use different phase offsets for the same track geometry.
	assert.NotEqual(t, relativeOrbit("S1A", a.AbsoluteOrbit), relativeOrbit("S1B", a.AbsoluteOrbit))
	assert.Equal(t, 117, a.RelativeOrbit)
	_ = b
}

func TestParseSceneIDMalformed(t *testing.T) {
	t.Parallel()

	tests := []string{
		"",
		"S1A_IW_SLC",
		"S1A_IW_SLC__1SDV_notadate_20200103T051053_030639_038280_1A12",
		"S1A_IW_SLC__1SDV_20200103T051025_20200103T051053_orbit_038280_1A12",
	}
	for _, id := range tests {
		_, err := ParseSceneID(id)
		assert.Error(t, err, "scene id %q", id)
	}
}

func TestDirectionCode(t *testing.T) {
	t.Parallel()

	asc := Acquisition{OrbitDirection: "ASCENDING"}
	desc := Acquisition{OrbitDirection: "descending"}
	assert.Equal(t, "A", asc.DirectionCode())
	assert.Equal(t, "D", desc.DirectionCode())
}
