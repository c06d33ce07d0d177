package ndt

import (
	"fmt"
	"strings"
)

// Method names an NDT back end.
type Method string

const (
	// MethodReference is the single-threaded reference solver. Each point
	// is scored against the cell it falls in.
	MethodReference Method = "reference"

	// MethodCPU scores each point against its own and the neighbouring
	// cells, spreading the work across goroutines.
	MethodCPU Method = "cpu"

	// MethodGPU is a GPU solver. No Go implementation exists; New reports
	// ErrBackendUnavailable.
	MethodGPU Method = "gpu"
)

var methodAliases = map[string]Method{
	"reference":   MethodReference,
	"pcl":         MethodReference,
	"pcl_generic": MethodReference,
	"cpu":         MethodCPU,
	"omp":         MethodCPU,
	"pcl_openmp":  MethodCPU,
	"gpu":         MethodGPU,
	"pcl_anh_gpu": MethodGPU,
}

// ParseMethod resolves a configured method name, including the legacy
// aliases used by older configuration files.
func ParseMethod(name string) (Method, error) {
	m, ok := methodAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown ndt method %q (want reference, cpu or gpu)", name)
	}
	return m, nil
}

func (m Method) String() string {
	return string(m)
}
