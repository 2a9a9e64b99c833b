package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// InstancesEndpoint is the endpoint for deploying a new contract
	// instance and listing the existing ones
	InstancesEndpoint = "/instances"
	// InstanceEndpoint is the endpoint to get the instance info
	InstanceURLParam = "stateId"
	InstanceEndpoint = "/instances/{" + InstanceURLParam + "}"
	// InstanceDeltaEndpoint is the endpoint to fetch one entry of the
	// instance delta log
	DeltaURLParam         = "version"
	InstanceDeltaEndpoint = "/instances/{" + InstanceURLParam + "}/deltas/{" + DeltaURLParam + "}"
	// InstanceVerifyEndpoint is the endpoint to check an accumulator proof
	// against a (possibly historic) root of an instance cell
	InstanceVerifyEndpoint = "/instances/{" + InstanceURLParam + "}/verify"
	// CallsEndpoint is the endpoint for submitting a circuit call
	CallsEndpoint = "/calls"
	// ProofEndpoint is the endpoint to get a proof job status and result
	ProofURLParam = "jobId"
	ProofEndpoint = "/proofs/{" + ProofURLParam + "}"
	// VerifyProofEndpoint is the endpoint for verifying a generated proof
	VerifyProofEndpoint = "/proofs/verify"
	// MetricsEndpoint exposes the prometheus metrics
	MetricsEndpoint = "/metrics"
)
