package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted while compiling sequences.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline for every emitted instruction.
type Collector interface {
	IncInstruction(set, op string)
	IncCompensation(set, channel string)
	IncRecompile(file string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncInstruction(string, string)  {}
func (noopCollector) IncCompensation(string, string) {}
func (noopCollector) IncRecompile(string)            {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	instructions  *prometheus.CounterVec
	compensations *prometheus.CounterVec
	recompiles    *prometheus.CounterVec
}

type sharedCounter struct {
	mu      sync.Mutex
	counter *prometheus.CounterVec
	opts    prometheus.CounterOpts
	labels  []string
}

var (
	instructionCounter = &sharedCounter{
		opts: prometheus.CounterOpts{
			Name: "voltseq_instructions_emitted_total",
			Help: "Number of device instructions emitted per channel set and operation.",
		},
		labels: []string{"set", "op"},
	}
	compensationCounter = &sharedCounter{
		opts: prometheus.CounterOpts{
			Name: "voltseq_compensation_pulses_total",
			Help: "Number of compensation pulses emitted per channel.",
		},
		labels: []string{"set", "channel"},
	}
	recompileCounter = &sharedCounter{
		opts: prometheus.CounterOpts{
			Name: "voltseq_recompile_total",
			Help: "Number of recompilations triggered per setup source file.",
		},
		labels: []string{"file"},
	}
)

// register creates the counter once and reuses a counter that is already
// registered under the same name.
func (s *sharedCounter) register(reg prometheus.Registerer) (*prometheus.CounterVec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counter != nil {
		return s.counter, nil
	}
	counter := prometheus.NewCounterVec(s.opts, s.labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		counter = existing
	}
	s.counter = counter
	return counter, nil
}

func (s *sharedCounter) reset() {
	s.mu.Lock()
	s.counter = nil
	s.mu.Unlock()
}

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	instructions, err := instructionCounter.register(reg)
	if err != nil {
		return nil, err
	}
	compensations, err := compensationCounter.register(reg)
	if err != nil {
		return nil, err
	}
	recompiles, err := recompileCounter.register(reg)
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{
		instructions:  instructions,
		compensations: compensations,
		recompiles:    recompiles,
	}, nil
}

// IncInstruction counts one emitted device instruction.
func (p *PrometheusCollector) IncInstruction(set, op string) {
	if p == nil || p.instructions == nil {
		return
	}
	p.instructions.WithLabelValues(set, op).Inc()
}

// IncCompensation counts one compensation pulse.
func (p *PrometheusCollector) IncCompensation(set, channel string) {
	if p == nil || p.compensations == nil {
		return
	}
	p.compensations.WithLabelValues(set, channel).Inc()
}

// IncRecompile increments the counter for the provided file path.
func (p *PrometheusCollector) IncRecompile(file string) {
	if p == nil || p.recompiles == nil {
		return
	}
	p.recompiles.WithLabelValues(file).Inc()
}
