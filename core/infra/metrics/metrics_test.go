package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNoopSatisfiesBothInterfaces(t *testing.T) {
	var p PipelineMetrics = Noop{}
	var g GatewayMetrics = Noop{}
	p.IncSubmissionsProcessed("pending")
	p.IncSecurityViolations()
	p.ObserveValidationDuration(0.1)
	p.IncPrivilegedOps("approve", "ok")
	g.ObserveRequest(http.MethodGet, "/health", "200", 0.01)
	g.SetStreamClients(3)
}

func TestPipelineCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("registry", reg)
	m.IncSubmissionsProcessed("rejected")
	m.IncSubmissionsProcessed("rejected")
	m.IncSecurityViolations()
	m.ObserveValidationDuration(0.25)
	m.IncPrivilegedOps("approve", "permission_denied")

	got := gather(t, reg)
	if v := counterValue(got, "registry_submissions_processed_total", "status", "rejected"); v != 2 {
		t.Fatalf("processed rejected = %v", v)
	}
	if v := counterValue(got, "registry_security_violations_total", "", ""); v != 1 {
		t.Fatalf("violations = %v", v)
	}
	if v := counterValue(got, "registry_privileged_ops_total", "outcome", "permission_denied"); v != 1 {
		t.Fatalf("privileged ops = %v", v)
	}
	fam := got["registry_validation_duration_seconds"]
	if fam == nil || fam.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one validation duration sample")
	}
}

func TestGatewayCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGatewayProm("registry", reg)
	m.ObserveRequest(http.MethodGet, "/api/v1/registry", "200", 0.01)
	m.ObserveRequest(http.MethodGet, "/api/v1/registry", "429", 0.001)
	m.SetStreamClients(2)

	got := gather(t, reg)
	if v := counterValue(got, "registry_api_requests_total", "status", "429"); v != 1 {
		t.Fatalf("429 requests = %v", v)
	}
	if _, ok := got["registry_api_request_duration_seconds"]; !ok {
		t.Fatalf("missing latency histogram")
	}
	if g := got["registry_stream_clients"]; g == nil || g.GetMetric()[0].GetGauge().GetValue() != 2 {
		t.Fatalf("stream clients gauge not set")
	}
}

func TestBreakerGaugeReadsStatesAtScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	states := map[string]string{"raw.githubusercontent.com": "closed"}
	RegisterBreakers(reg, "registry_validator", func() map[string]string { return states })

	gauge := func() float64 {
		fam := gather(t, reg)["registry_validator_upstream_breaker_open"]
		for _, m := range fam.GetMetric() {
			if hasLabel(m, "host", "raw.githubusercontent.com") {
				return m.GetGauge().GetValue()
			}
		}
		t.Fatalf("no breaker gauge for host")
		return -1
	}
	if v := gauge(); v != 0 {
		t.Fatalf("closed breaker reads %v", v)
	}
	states = map[string]string{"raw.githubusercontent.com": "open"}
	if v := gauge(); v != 1 {
		t.Fatalf("open breaker reads %v", v)
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	NewProm("registry", prometheus.NewRegistry())
	NewProm("registry", prometheus.NewRegistry())
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	NewProm("registry_validator", reg).IncSubmissionsProcessed("pending")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"registry_validator_submissions_processed_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %s", want)
		}
	}
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		out[fam.GetName()] = fam
	}
	return out
}

// counterValue sums counters in a family, optionally restricted to one label value.
func counterValue(families map[string]*dto.MetricFamily, name, label, value string) float64 {
	var total float64
	for _, m := range families[name].GetMetric() {
		if label != "" && !hasLabel(m, label, value) {
			continue
		}
		total += m.GetCounter().GetValue()
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}
