package converter

// SampleTypeConfig describes the pprof sample types to Pyroscope's ingest
// API, with wall time reported in unit.
func SampleTypeConfig(unit string) map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"wall": {
			"units":        unit,
			"display-name": "wall-time",
			"aggregation":  "sum",
			"cumulative":   false,
			"sampled":      false,
		},
		"samples": {
			"units":        "count",
			"display-name": "stack-count",
			"aggregation":  "sum",
			"cumulative":   false,
			"sampled":      false,
		},
	}
}
