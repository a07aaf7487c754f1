// Package environment identifies the Google Cloud runtime a process is on
// and decides whether environment-gated configuration should activate.
package environment

// Environment is one of the closed set of GCP runtimes we can detect.
type Environment int

const (
	Unknown Environment = iota
	ComputeEngine
	KubernetesEngine
	AppEngineFlexible
	AppEngineStandard
	CloudRun
)

func (e Environment) String() string {
	switch e {
	case ComputeEngine:
		return "COMPUTE_ENGINE"
	case KubernetesEngine:
		return "KUBERNETES_ENGINE"
	case AppEngineFlexible:
		return "APP_ENGINE_FLEXIBLE"
	case AppEngineStandard:
		return "APP_ENGINE_STANDARD"
	case CloudRun:
		return "CLOUD_RUN"
	default:
		return "UNKNOWN"
	}
}
