package shopload

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScalingCSV(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scaling.csv")
	require.NoError(t, ioutil.WriteFile(p, []byte(data), 0644))
	return p
}

func TestReadScaling(t *testing.T) {
	p := writeScalingCSV(t, "fruit,2,180.50\nfruit,1,100.00\nveg,,40\nveg,,75\n")

	points, err := ReadScaling(p)
	require.NoError(t, err)

	assert.Equal(t, []ScalingPoint{{Nodes: 1, MaxRPS: 100}, {Nodes: 2, MaxRPS: 180.5}}, points["fruit"])
	assert.Equal(t, []ScalingPoint{{Nodes: 1, MaxRPS: 40}, {Nodes: 2, MaxRPS: 75}}, points["veg"])
}

func TestReadScalingErrors(t *testing.T) {
	for _, data := range []string{"fruit,1\n", "fruit,x,10\n", "fruit,1,fast\n"} {
		_, err := ReadScaling(writeScalingCSV(t, data))
		assert.Error(t, err, data)
	}
	_, err := ReadScaling(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestReportScaling(t *testing.T) {
	p := writeScalingCSV(t, "fruit,1,100\nfruit,2,190\nfruit,3,260\n")
	png := filepath.Join(t.TempDir(), "scaling.png")

	require.NoError(t, ReportScaling(p, png))

	data, err := ioutil.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestReportScalingEmpty(t *testing.T) {
	err := ReportScaling(writeScalingCSV(t, ""), filepath.Join(t.TempDir(), "scaling.png"))
	assert.Error(t, err)
}
