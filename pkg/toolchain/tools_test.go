package toolchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTools_DefaultTemplates(t *testing.T) {
	r := &recordingRunner{}
	ctx := context.Background()

	require.NoError(t, CommandWitnessGenerator{Runner: r, Template: DefaultWitnessTemplate}.GenerateWitness(ctx, WitnessRequest{
		CircuitPath: "circuit.wasm",
		InputPath:   "/work/m-1/input.json",
		WitnessPath: "/work/m-1/witness.wtns",
	}))
	require.NoError(t, CommandProver{Runner: r, Template: DefaultProveTemplate}.Prove(ctx, ProveRequest{
		ProvingKeyPath: "final.zkey",
		WitnessPath:    "/work/m-1/witness.wtns",
		ProofPath:      "/work/m-1/proof.json",
		PublicPath:     "/work/m-1/public.json",
	}))
	require.NoError(t, CommandSubmitter{Runner: r, Template: DefaultSubmitTemplate}.Submit(ctx, "m-1"))

	require.Len(t, r.cmds, 3)
	assert.Equal(t, Command{Name: "node", Args: []string{
		"circuit-compiled/zkHotdog_js/generate_witness.js", "circuit.wasm", "/work/m-1/input.json", "/work/m-1/witness.wtns",
	}}, r.cmds[0])
	assert.Equal(t, Command{Name: "npx", Args: []string{
		"snarkjs", "groth16", "prove", "final.zkey", "/work/m-1/witness.wtns", "/work/m-1/proof.json", "/work/m-1/public.json",
	}}, r.cmds[1])
	assert.Equal(t, Command{Name: "node", Args: []string{"dist/verify_client.js", "m-1"}}, r.cmds[2])
}

func TestCommandTools_PropagateRunnerError(t *testing.T) {
	r := &recordingRunner{err: &ExitError{Command: "npx", Code: 1}}
	err := CommandProver{Runner: r, Template: DefaultProveTemplate}.Prove(context.Background(), ProveRequest{})

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.Code)
}

func TestTemplate_ExpandLeavesUnknownPlaceholders(t *testing.T) {
	tpl := Template{Name: "tool", Args: []string{"--id={id}", "{other}"}, Dir: "/opt"}
	got := tpl.Expand(map[string]string{"id": "abc"})
	assert.Equal(t, Command{Name: "tool", Args: []string{"--id=abc", "{other}"}, Dir: "/opt"}, got)
	assert.Equal(t, "tool --id={id} {other}", Command{Name: "tool", Args: tpl.Args}.String())
}
