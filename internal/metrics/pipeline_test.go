package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetState_OneHot(t *testing.T) {
	all := []string{"idle", "capturing", "restarting", "terminating"}
	SetState("restarting", all)

	for _, s := range all {
		want := 0.0
		if s == "restarting" {
			want = 1
		}
		assert.Equal(t, want, testutil.ToFloat64(PipelineState.WithLabelValues(s)), s)
	}
}

func TestIncRestart_Labels(t *testing.T) {
	before := testutil.ToFloat64(DeviceRestarts.WithLabelValues("failure"))
	IncRestart(false)
	assert.Equal(t, before+1, testutil.ToFloat64(DeviceRestarts.WithLabelValues("failure")))
}

func TestIncImport_Labels(t *testing.T) {
	before := testutil.ToFloat64(BackendImports.WithLabelValues("null", "success"))
	IncImport("null", true)
	assert.Equal(t, before+1, testutil.ToFloat64(BackendImports.WithLabelValues("null", "success")))
}
