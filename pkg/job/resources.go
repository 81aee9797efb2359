package job

import "strings"

// Default resource values requested when nothing else is configured.
const (
	DefaultArch      = "intel*"
	DefaultMemory    = "4G"
	DefaultTime      = "7:59:59"
	DefaultHighP     = true
	DefaultCores     = 1
	DefaultBatchSize = 1
)

// Resources is the scheduler resource request for every task of a job.
type Resources struct {
	// Arch is the CPU architecture filter (e.g. intel*). Empty omits it.
	Arch string `json:"arch,omitempty" yaml:"arch,omitempty" mapstructure:"arch"`

	// Memory is the per-core memory request (e.g. 4G).
	Memory string `json:"memory" yaml:"memory,omitempty" mapstructure:"memory"`

	// Time is the wall-time limit (e.g. 12:00:00).
	Time string `json:"time" yaml:"time,omitempty" mapstructure:"time"`

	// HighP requests the priority-class queue.
	HighP bool `json:"highp" yaml:"highp,omitempty" mapstructure:"highp"`

	Cores     int `json:"cores" yaml:"cores,omitempty" mapstructure:"cores"`
	BatchSize int `json:"batch_size" yaml:"batch_size,omitempty" mapstructure:"batch_size"`
}

// DefaultResources returns the built-in resource request.
func DefaultResources() Resources {
	return Resources{
		Arch:      DefaultArch,
		Memory:    DefaultMemory,
		Time:      DefaultTime,
		HighP:     DefaultHighP,
		Cores:     DefaultCores,
		BatchSize: DefaultBatchSize,
	}
}

// Normalize fills empty memory/time and clamps counts to at least one.
func (r Resources) Normalize() Resources {
	r.Arch = strings.TrimSpace(r.Arch)
	if strings.TrimSpace(r.Memory) == "" {
		r.Memory = DefaultMemory
	}
	if strings.TrimSpace(r.Time) == "" {
		r.Time = DefaultTime
	}
	if r.Cores < 1 {
		r.Cores = DefaultCores
	}
	if r.BatchSize < 1 {
		r.BatchSize = DefaultBatchSize
	}
	return r
}

// ResourceString renders the `-l` request: arch, then memory, then wall time,
// then `highp` only when enabled. The order is part of the scheduler contract.
func (r Resources) ResourceString() string {
	parts := make([]string, 0, 4)
	if r.Arch != "" {
		parts = append(parts, "arch="+r.Arch)
	}
	parts = append(parts, "h_data="+r.Memory, "h_rt="+r.Time)
	if r.HighP {
		parts = append(parts, "highp")
	}
	return strings.Join(parts, ",")
}
