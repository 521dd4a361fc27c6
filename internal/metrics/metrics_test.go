//go:build !noprom

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	noopRecorder
	ops   map[string]int
	tools map[string]int
}

func (c *countingRecorder) IncDBOpTotal(op string, success bool) {
	if success {
		c.ops[op]++
	}
}

func (c *countingRecorder) IncToolTotal(tool string, success bool) {
	c.tools[tool]++
}

func TestTimeHelpers(t *testing.T) {
	rec := &countingRecorder{ops: map[string]int{}, tools: map[string]int{}}
	SetRecorder(rec)
	defer SetRecorder(nil)

	TimeOp("store_open")(true)
	TimeOp("store_open")(false)
	TimeTool("run_script")(false)
	Time(rec, "execute_mutable")(true)

	assert.Equal(t, 1, rec.ops["store_open"])
	assert.Equal(t, 1, rec.ops["execute_mutable"])
	assert.Equal(t, 1, rec.tools["run_script"])
}

func TestEnableServesMetrics(t *testing.T) {
	h, err := Enable()
	require.NoError(t, err)
	defer SetRecorder(nil)

	TimeOp("schema_apply")(true)
	Default().ObservePoolStats(1, 2)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `db_ops_total{op="schema_apply",success="true"} 1`)
	assert.Contains(t, string(body), "db_pool_idle 2")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
