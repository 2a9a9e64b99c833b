// Package runtime orchestrates circuit calls against deployed contract
// instances: it resolves the instance, runs the registered circuit logic
// inside an execution context, seals the resulting delta atomically,
// records the new state root on the global registry and hands the proving
// work to the asynchronous prover pipeline.
package runtime

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/veilstate/veilstate/privacy"
	"github.com/veilstate/veilstate/state"
	"github.com/veilstate/veilstate/storage"
)

// CallInput carries the inputs of one circuit invocation. Public inputs are
// visible to everyone; witnesses are wrapped at the boundary and can only
// be read back through the disclosure gate.
type CallInput struct {
	Public    []*big.Int
	Witnesses []privacy.Witness[*big.Int]
}

// Witness returns the i-th private input, or a wrapped zero when the caller
// supplied fewer. Circuit logic asserts on whatever it needs.
func (in *CallInput) Witness(i int) privacy.Witness[*big.Int] {
	if i >= len(in.Witnesses) {
		return privacy.NewWitness(big.NewInt(0))
	}
	return in.Witnesses[i]
}

// PublicInput returns the i-th public input, or zero when absent.
func (in *CallInput) PublicInput(i int) *big.Int {
	if i >= len(in.Public) {
		return big.NewInt(0)
	}
	return in.Public[i]
}

// Logic is the body of a circuit: it computes over the execution context,
// mutating ledger cells, spending nullifiers and emitting disclosed
// outputs. Returning an error (or tripping a failed assertion) aborts the
// whole call.
type Logic func(call *state.Call, input *CallInput) error

// JobQueue receives the proving work of committed calls. The engine never
// waits on it.
type JobQueue interface {
	Push(job *storage.ProofJob) error
}

// Engine executes circuit calls. Calls against one instance are serialized
// by the instance snapshot; calls against different instances run in
// parallel.
type Engine struct {
	instances *storage.InstanceDB
	registry  *storage.RegistryTree
	queue     JobQueue

	circuitsMu sync.RWMutex
	circuits   map[string]Logic
}

// New creates an Engine over the instance database and registry tree. The
// queue may be nil, in which case committed calls produce no proof jobs.
func New(instances *storage.InstanceDB, registry *storage.RegistryTree, queue JobQueue) *Engine {
	return &Engine{
		instances: instances,
		registry:  registry,
		queue:     queue,
		circuits:  make(map[string]Logic),
	}
}

// RegisterCircuit binds a name to circuit logic. Registering the same name
// twice is a programming error.
func (e *Engine) RegisterCircuit(name string, logic Logic) error {
	if name == "" || logic == nil {
		return fmt.Errorf("circuit registration needs a name and logic")
	}
	e.circuitsMu.Lock()
	defer e.circuitsMu.Unlock()
	if _, dup := e.circuits[name]; dup {
		return fmt.Errorf("circuit %q already registered", name)
	}
	e.circuits[name] = logic
	return nil
}

// Circuits lists the registered circuit names.
func (e *Engine) Circuits() []string {
	e.circuitsMu.RLock()
	defer e.circuitsMu.RUnlock()
	names := make([]string, 0, len(e.circuits))
	for name := range e.circuits {
		names = append(names, name)
	}
	return names
}

func (e *Engine) logic(name string) (Logic, bool) {
	e.circuitsMu.RLock()
	defer e.circuitsMu.RUnlock()
	logic, ok := e.circuits[name]
	return logic, ok
}

// Instances exposes the instance database to the serving layer.
func (e *Engine) Instances() *storage.InstanceDB { return e.instances }

// Registry exposes the global registry tree.
func (e *Engine) Registry() *storage.RegistryTree { return e.registry }
