package toolchain

import (
	"context"
	"strings"
)

type WitnessRequest struct {
	CircuitPath string
	InputPath   string
	WitnessPath string
}

type ProveRequest struct {
	ProvingKeyPath string
	WitnessPath    string
	ProofPath      string
	PublicPath     string
}

// WitnessGenerator turns a circuit input file into a witness file.
type WitnessGenerator interface {
	GenerateWitness(ctx context.Context, req WitnessRequest) error
}

// Prover turns a witness into a proof and its public inputs.
type Prover interface {
	Prove(ctx context.Context, req ProveRequest) error
}

// Submitter sends a measurement's proof for verification. On success the
// verification client may later drop an attestation file for the id.
type Submitter interface {
	Submit(ctx context.Context, measurementID string) error
}

// Template is a command line with {placeholder} arguments.
type Template struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
	Dir  string   `yaml:"dir,omitempty"`
}

// Expand substitutes placeholders in every argument.
func (t Template) Expand(vars map[string]string) Command {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = r.Replace(a)
	}
	return Command{Name: t.Name, Args: args, Dir: t.Dir}
}

// Default command templates for the snarkjs based toolchain.
var (
	DefaultWitnessTemplate = Template{
		Name: "node",
		Args: []string{"circuit-compiled/zkHotdog_js/generate_witness.js", "{circuit}", "{input}", "{witness}"},
	}
	DefaultProveTemplate = Template{
		Name: "npx",
		Args: []string{"snarkjs", "groth16", "prove", "{zkey}", "{witness}", "{proof}", "{public}"},
	}
	DefaultSubmitTemplate = Template{
		Name: "node",
		Args: []string{"dist/verify_client.js", "{id}"},
	}
)

type CommandWitnessGenerator struct {
	Runner   Runner
	Template Template
}

func (g CommandWitnessGenerator) GenerateWitness(ctx context.Context, req WitnessRequest) error {
	return g.Runner.Run(ctx, g.Template.Expand(map[string]string{
		"circuit": req.CircuitPath,
		"input":   req.InputPath,
		"witness": req.WitnessPath,
	}))
}

type CommandProver struct {
	Runner   Runner
	Template Template
}

func (p CommandProver) Prove(ctx context.Context, req ProveRequest) error {
	return p.Runner.Run(ctx, p.Template.Expand(map[string]string{
		"zkey":    req.ProvingKeyPath,
		"witness": req.WitnessPath,
		"proof":   req.ProofPath,
		"public":  req.PublicPath,
	}))
}

type CommandSubmitter struct {
	Runner   Runner
	Template Template
}

func (s CommandSubmitter) Submit(ctx context.Context, measurementID string) error {
	return s.Runner.Run(ctx, s.Template.Expand(map[string]string{"id": measurementID}))
}
