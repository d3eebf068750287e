package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

var (
	AttrOperation = attribute.Key("trustchain.operation")
	AttrRunID     = attribute.Key("trustchain.run.id")
	AttrGate      = attribute.Key("trustchain.gate")
	AttrVerdict   = attribute.Key("trustchain.verdict")
	AttrDetector  = attribute.Key("trustchain.detector")
	AttrBaseline  = attribute.Key("trustchain.baseline")
	AttrEventType = attribute.Key("trustchain.event.type")
	AttrCount     = attribute.Key("trustchain.count")
)

// Run labels an operation over a run directory.
func Run(runID string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrRunID.String(runID)}
}

// Gate labels a conformance gate evaluation.
func Gate(gate, verdict string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrGate.String(gate), AttrVerdict.String(verdict)}
}

// Events labels a pipeline pass over count events of one type.
func Events(eventType string, count int) []attribute.KeyValue {
	return []attribute.KeyValue{AttrEventType.String(eventType), AttrCount.Int(count)}
}
