package transform

import (
	"sort"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Stats counts what passes did. Each pipeline owns its registry so runs do
// not share counters.
type Stats struct {
	registry *prom.Registry
	rewrites *prom.CounterVec
}

// Stat is one counter value.
type Stat struct {
	Pass   string
	Action string
	Count  float64
}

// NewStats returns an empty statistics set.
func NewStats() *Stats {
	s := &Stats{
		registry: prom.NewRegistry(),
		rewrites: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: "deobby",
				Name:      "rewrites_total",
				Help:      "Rewrites performed, by pass and action",
			},
			[]string{"pass", "action"}),
	}
	s.registry.MustRegister(s.rewrites)
	return s
}

// Registry exposes the counters for export.
func (s *Stats) Registry() *prom.Registry { return s.registry }

// Counter returns the counter for pass and action.
func (s *Stats) Counter(pass, action string) prom.Counter {
	return s.rewrites.WithLabelValues(pass, action)
}

// Add increments the counter for pass and action by n.
func (s *Stats) Add(pass, action string, n int) {
	s.rewrites.WithLabelValues(pass, action).Add(float64(n))
}

// Snapshot returns every counter, sorted by pass then action.
func (s *Stats) Snapshot() ([]Stat, error) {
	families, err := s.registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []Stat
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			st := Stat{Count: m.GetCounter().GetValue()}
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "pass":
					st.Pass = l.GetValue()
				case "action":
					st.Action = l.GetValue()
				}
			}
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pass != out[j].Pass {
			return out[i].Pass < out[j].Pass
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}
