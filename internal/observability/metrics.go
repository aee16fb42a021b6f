package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type histogram struct {
	buckets []float64
	counts  []uint64
	count   uint64
	sum     float64
}

func newHistogram(buckets []float64) *histogram {
	copyBuckets := make([]float64, len(buckets))
	copy(copyBuckets, buckets)
	return &histogram{
		buckets: copyBuckets,
		counts:  make([]uint64, len(copyBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	if h == nil {
		return
	}
	if value < 0 {
		value = 0
	}
	for idx, bucket := range h.buckets {
		if value <= bucket {
			h.counts[idx]++
			break
		}
	}
	h.count++
	h.sum += value
}

type apiRequestKey struct {
	route  string
	method string
	status string
}

type apiDurationKey struct {
	route  string
	method string
}

type providerCallKey struct {
	provider  string
	operation string
	outcome   string
}

type providerDurationKey struct {
	provider  string
	operation string
}

// APIMetrics tracks HTTP traffic and LLM provider calls. Rendered in the
// Prometheus text exposition format without a client library dependency.
type APIMetrics struct {
	mu                sync.RWMutex
	httpRequests      map[apiRequestKey]uint64
	httpDurations     map[apiDurationKey]*histogram
	providerCalls     map[providerCallKey]uint64
	providerDurations map[providerDurationKey]*histogram
	providerRetries   map[string]uint64
	responderCounts   map[string]uint64
}

func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{
		httpRequests:      map[apiRequestKey]uint64{},
		httpDurations:     map[apiDurationKey]*histogram{},
		providerCalls:     map[providerCallKey]uint64{},
		providerDurations: map[providerDurationKey]*histogram{},
		providerRetries:   map[string]uint64{},
		responderCounts:   map[string]uint64{},
	}
}

func (m *APIMetrics) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := apiRequestKey{
		route:  normalizeMetricValue(route, "unknown"),
		method: normalizeMetricValue(strings.ToUpper(strings.TrimSpace(method)), "UNKNOWN"),
		status: normalizeMetricValue(strconv.Itoa(status), "0"),
	}
	durationKey := apiDurationKey{route: key.route, method: key.method}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.httpRequests[key]++
	h, exists := m.httpDurations[durationKey]
	if !exists {
		h = newHistogram(defaultDurationBuckets)
		m.httpDurations[durationKey] = h
	}
	h.observe(duration.Seconds())
}

func (m *APIMetrics) ObserveProviderCall(provider, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	key := providerCallKey{
		provider:  normalizeMetricValue(provider, "unknown"),
		operation: normalizeMetricValue(operation, "unknown"),
		outcome:   normalizeMetricValue(outcome, "unknown"),
	}
	durationKey := providerDurationKey{provider: key.provider, operation: key.operation}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerCalls[key]++
	h, exists := m.providerDurations[durationKey]
	if !exists {
		h = newHistogram(defaultDurationBuckets)
		m.providerDurations[durationKey] = h
	}
	h.observe(duration.Seconds())
}

func (m *APIMetrics) IncProviderRetry(provider string) {
	if m == nil {
		return
	}
	clean := normalizeMetricValue(provider, "unknown")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerRetries[clean]++
}

func (m *APIMetrics) ObserveResponderCount(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responderCounts[strconv.Itoa(count)]++
}

func (m *APIMetrics) Render() string {
	if m == nil {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder

	sb.WriteString("# HELP http_requests_total Total HTTP requests handled by API.\n")
	sb.WriteString("# TYPE http_requests_total counter\n")
	httpRequestKeys := make([]apiRequestKey, 0, len(m.httpRequests))
	for key := range m.httpRequests {
		httpRequestKeys = append(httpRequestKeys, key)
	}
	sort.Slice(httpRequestKeys, func(i, j int) bool {
		if httpRequestKeys[i].route != httpRequestKeys[j].route {
			return httpRequestKeys[i].route < httpRequestKeys[j].route
		}
		if httpRequestKeys[i].method != httpRequestKeys[j].method {
			return httpRequestKeys[i].method < httpRequestKeys[j].method
		}
		return httpRequestKeys[i].status < httpRequestKeys[j].status
	})
	for _, key := range httpRequestKeys {
		labels := map[string]string{
			"route":  key.route,
			"method": key.method,
			"status": key.status,
		}
		sb.WriteString("http_requests_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.httpRequests[key], 10))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP http_request_duration_seconds HTTP request latency in seconds.\n")
	sb.WriteString("# TYPE http_request_duration_seconds histogram\n")
	httpDurationKeys := make([]apiDurationKey, 0, len(m.httpDurations))
	for key := range m.httpDurations {
		httpDurationKeys = append(httpDurationKeys, key)
	}
	sort.Slice(httpDurationKeys, func(i, j int) bool {
		if httpDurationKeys[i].route != httpDurationKeys[j].route {
			return httpDurationKeys[i].route < httpDurationKeys[j].route
		}
		return httpDurationKeys[i].method < httpDurationKeys[j].method
	})
	for _, key := range httpDurationKeys {
		labels := map[string]string{
			"route":  key.route,
			"method": key.method,
		}
		renderHistogramSeries(&sb, "http_request_duration_seconds", labels, m.httpDurations[key])
	}

	sb.WriteString("# HELP llm_provider_calls_total LLM provider calls by provider, operation, and outcome.\n")
	sb.WriteString("# TYPE llm_provider_calls_total counter\n")
	providerKeys := make([]providerCallKey, 0, len(m.providerCalls))
	for key := range m.providerCalls {
		providerKeys = append(providerKeys, key)
	}
	sort.Slice(providerKeys, func(i, j int) bool {
		if providerKeys[i].provider != providerKeys[j].provider {
			return providerKeys[i].provider < providerKeys[j].provider
		}
		if providerKeys[i].operation != providerKeys[j].operation {
			return providerKeys[i].operation < providerKeys[j].operation
		}
		return providerKeys[i].outcome < providerKeys[j].outcome
	})
	for _, key := range providerKeys {
		labels := map[string]string{
			"provider":  key.provider,
			"operation": key.operation,
			"outcome":   key.outcome,
		}
		sb.WriteString("llm_provider_calls_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.providerCalls[key], 10))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP llm_provider_call_duration_seconds LLM provider call latency in seconds.\n")
	sb.WriteString("# TYPE llm_provider_call_duration_seconds histogram\n")
	providerDurationKeys := make([]providerDurationKey, 0, len(m.providerDurations))
	for key := range m.providerDurations {
		providerDurationKeys = append(providerDurationKeys, key)
	}
	sort.Slice(providerDurationKeys, func(i, j int) bool {
		if providerDurationKeys[i].provider != providerDurationKeys[j].provider {
			return providerDurationKeys[i].provider < providerDurationKeys[j].provider
		}
		return providerDurationKeys[i].operation < providerDurationKeys[j].operation
	})
	for _, key := range providerDurationKeys {
		labels := map[string]string{
			"provider":  key.provider,
			"operation": key.operation,
		}
		renderHistogramSeries(&sb, "llm_provider_call_duration_seconds", labels, m.providerDurations[key])
	}

	sb.WriteString("# HELP llm_provider_retries_total Retries issued against LLM providers.\n")
	sb.WriteString("# TYPE llm_provider_retries_total counter\n")
	retryProviders := make([]string, 0, len(m.providerRetries))
	for provider := range m.providerRetries {
		retryProviders = append(retryProviders, provider)
	}
	sort.Strings(retryProviders)
	for _, provider := range retryProviders {
		labels := map[string]string{"provider": provider}
		sb.WriteString("llm_provider_retries_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.providerRetries[provider], 10))
		sb.WriteString("\n")
	}

	sb.WriteString("# HELP group_responders_total Group questions by number of responding personas.\n")
	sb.WriteString("# TYPE group_responders_total counter\n")
	responderCounts := make([]string, 0, len(m.responderCounts))
	for count := range m.responderCounts {
		responderCounts = append(responderCounts, count)
	}
	sort.Strings(responderCounts)
	for _, count := range responderCounts {
		labels := map[string]string{"responders": count}
		sb.WriteString("group_responders_total")
		sb.WriteString(formatLabels(labels))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(m.responderCounts[count], 10))
		sb.WriteString("\n")
	}

	return sb.String()
}

func renderHistogramSeries(sb *strings.Builder, metricName string, labels map[string]string, h *histogram) {
	if sb == nil || h == nil {
		return
	}

	cumulative := uint64(0)
	for idx, bucket := range h.buckets {
		cumulative += h.counts[idx]
		withLE := cloneLabels(labels)
		withLE["le"] = strconv.FormatFloat(bucket, 'g', -1, 64)
		sb.WriteString(metricName)
		sb.WriteString("_bucket")
		sb.WriteString(formatLabels(withLE))
		sb.WriteString(" ")
		sb.WriteString(strconv.FormatUint(cumulative, 10))
		sb.WriteString("\n")
	}

	withInf := cloneLabels(labels)
	withInf["le"] = "+Inf"
	sb.WriteString(metricName)
	sb.WriteString("_bucket")
	sb.WriteString(formatLabels(withInf))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatUint(h.count, 10))
	sb.WriteString("\n")

	sb.WriteString(metricName)
	sb.WriteString("_sum")
	sb.WriteString(formatLabels(labels))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatFloat(h.sum, 'g', -1, 64))
	sb.WriteString("\n")

	sb.WriteString(metricName)
	sb.WriteString("_count")
	sb.WriteString(formatLabels(labels))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatUint(h.count, 10))
	sb.WriteString("\n")
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+`="`+escapeLabelValue(labels[key])+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for key, value := range labels {
		out[key] = value
	}
	return out
}

func escapeLabelValue(value string) string {
	replacer := strings.NewReplacer(`\\`, `\\\\`, `\n`, `\\n`, `"`, `\\"`)
	return replacer.Replace(value)
}

func normalizeMetricValue(value, fallback string) string {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return fallback
	}
	return clean
}
