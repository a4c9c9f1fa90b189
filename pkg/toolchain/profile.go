package toolchain

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SupportedCircuits is the range of circuit versions whose input layout
// ({distance_squared, point1, point2}) this service writes.
const SupportedCircuits = ">= 1.0.0, < 2.0.0"

// Profile describes the circuit artifacts and the commands that operate on
// them.
type Profile struct {
	Circuit  CircuitProfile  `yaml:"circuit"`
	Commands CommandsProfile `yaml:"commands"`
	Wasi     *WasiProfile    `yaml:"wasi,omitempty"`
}

type CircuitProfile struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Wasm       string `yaml:"wasm"`
	ProvingKey string `yaml:"proving_key"`
}

type CommandsProfile struct {
	// Dir is the working directory for every command that does not set
	// its own.
	Dir     string    `yaml:"dir"`
	Witness *Template `yaml:"witness,omitempty"`
	Prove   *Template `yaml:"prove,omitempty"`
	Verify  *Template `yaml:"verify,omitempty"`
}

// WasiProfile switches witness generation to an in-process WASI module.
type WasiProfile struct {
	Module           string        `yaml:"module"`
	MemoryLimitBytes int64         `yaml:"memory_limit_bytes"`
	TimeLimit        time.Duration `yaml:"time_limit"`
}

// DefaultProfile matches the layout produced by the circuit build scripts.
func DefaultProfile() Profile {
	w, p, v := DefaultWitnessTemplate, DefaultProveTemplate, DefaultSubmitTemplate
	return Profile{
		Circuit: CircuitProfile{
			Name:       "zkHotdog",
			Version:    "1.0.0",
			Wasm:       "circuit-compiled/zkHotdog_js/zkHotdog.wasm",
			ProvingKey: "keys/zkHotdog_final.zkey",
		},
		Commands: CommandsProfile{Dir: ".", Witness: &w, Prove: &p, Verify: &v},
	}
}

// LoadProfile reads a YAML profile. Omitted commands keep their defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("load toolchain profile: %w", err)
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	p.Commands.Witness, p.Commands.Prove, p.Commands.Verify = nil, nil, nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse toolchain profile: %w", err)
	}
	d := DefaultProfile()
	if p.Commands.Witness == nil {
		p.Commands.Witness = d.Commands.Witness
	}
	if p.Commands.Prove == nil {
		p.Commands.Prove = d.Commands.Prove
	}
	if p.Commands.Verify == nil {
		p.Commands.Verify = d.Commands.Verify
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks the circuit version against SupportedCircuits and that
// every command names an executable.
func (p Profile) Validate() error {
	v, err := semver.NewVersion(p.Circuit.Version)
	if err != nil {
		return fmt.Errorf("circuit %q version %q: %w", p.Circuit.Name, p.Circuit.Version, err)
	}
	c, err := semver.NewConstraint(SupportedCircuits)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("circuit %q version %s not in supported range %s", p.Circuit.Name, v, SupportedCircuits)
	}
	for name, t := range map[string]*Template{"witness": p.Commands.Witness, "prove": p.Commands.Prove, "verify": p.Commands.Verify} {
		if t == nil || t.Name == "" {
			return fmt.Errorf("toolchain command %s has no executable", name)
		}
	}
	if p.Wasi != nil && p.Wasi.Module == "" {
		return fmt.Errorf("wasi witness generator needs a module path")
	}
	return nil
}

func (p Profile) template(t *Template) Template {
	out := *t
	if out.Dir == "" {
		out.Dir = p.Commands.Dir
	}
	return out
}

// WitnessTemplate, ProveTemplate and VerifyTemplate resolve each command's
// working directory.
func (p Profile) WitnessTemplate() Template { return p.template(p.Commands.Witness) }
func (p Profile) ProveTemplate() Template   { return p.template(p.Commands.Prove) }
func (p Profile) VerifyTemplate() Template  { return p.template(p.Commands.Verify) }
