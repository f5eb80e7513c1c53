package breaker

import (
	"sync"

	"github.com/freshcart/push-engine/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds one breaker per dependency name, created lazily on first
// reference and never removed. It is an explicit object handed to its
// consumers at construction time rather than a process-wide singleton.
type Registry struct {
	defaults Settings
	logger   *logger.Logger

	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry with the given default settings.
// Metrics are registered on reg when it is non-nil.
func NewRegistry(defaults Settings, log *logger.Logger, reg prometheus.Registerer) *Registry {
	r := &Registry{
		defaults: defaults.withDefaults(),
		logger:   log,
		breakers: make(map[string]*Breaker),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions by breaker name.",
		}, []string{"breaker", "from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Calls rejected while the circuit was open.",
		}, []string{"breaker"}),
	}

	if reg != nil {
		reg.MustRegister(r.transitions, r.rejections)
	}

	return r
}

// Get returns the breaker for name, creating it with the registry defaults
// on first use.
func (r *Registry) Get(name string) *Breaker {
	return r.GetWithSettings(name, r.defaults)
}

// GetWithSettings returns the breaker for name, creating it with the given
// settings on first use. Settings of an existing breaker are not changed.
func (r *Registry) GetWithSettings(name string, settings Settings) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := newBreaker(name, settings, r.logger, r)
	r.breakers[name] = b
	return b
}

// Snapshot returns metrics for every breaker in the registry.
func (r *Registry) Snapshot() []Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Metrics, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Metrics())
	}
	return out
}

func (r *Registry) transition(name string, from, to State) {
	r.transitions.WithLabelValues(name, string(from), string(to)).Inc()
}

func (r *Registry) rejection(name string) {
	r.rejections.WithLabelValues(name).Inc()
}
