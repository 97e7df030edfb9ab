package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_DecisionCounts(t *testing.T) {
	m := NewPrometheusMetrics("careaccess_test1")

	m.RecordDecision("DIRECT_ROLE_ALLOW", true, 50*time.Microsecond)
	m.RecordDecision("DELEGATION_DENY", false, 30*time.Microsecond)
	m.RecordDecision("NO_PERMISSION", false, 10*time.Microsecond)

	allow, deny := m.DecisionCounts()
	assert.Equal(t, uint64(1), allow)
	assert.Equal(t, uint64(2), deny)
}

func TestPrometheusMetrics_Exposition(t *testing.T) {
	m := NewPrometheusMetrics("careaccess_test2")

	m.RecordDecision("DIRECT_ROLE_ALLOW", true, 50*time.Microsecond)
	m.RecordCacheHit("local")
	m.RecordCacheMiss("redis")
	m.RecordRateLimitViolation("sensitive", 2)
	m.RecordOverrideActivation("medical_emergency")
	m.UpdateCacheEpoch(3)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.Contains(text, "careaccess_test2_decisions_total"))
	assert.True(t, strings.Contains(text, "careaccess_test2_cache_hits_total"))
	assert.True(t, strings.Contains(text, "careaccess_test2_ratelimit_violations_total"))
	assert.True(t, strings.Contains(text, "careaccess_test2_override_activations_total"))
	assert.True(t, strings.Contains(text, "careaccess_test2_cache_epoch 3"))
}

func TestNoOpMetrics(t *testing.T) {
	m := NewNoOpMetrics()
	m.RecordDecision("NO_PERMISSION", false, time.Microsecond)
	m.RecordCacheHit("local")

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
}
