// Package localexecutor provides in-process implementations of the
// pipeline.Executor interface.
package localexecutor

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ErrNoArtifactID is returned when a deploy command prints nothing.
var ErrNoArtifactID = errors.New("deploy command printed no artifact id")

// Simulated deploys nothing. It returns an address derived from the network,
// the step name and the argument hash, so the same request always yields the
// same address.
type Simulated struct{}

var _ pipeline.Executor = Simulated{}

// Deploy implements pipeline.Executor.
func (Simulated) Deploy(ctx context.Context, req pipeline.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr := SimulatedAddress(req.Network, req.Step, req.ArgsHash)
	ctxlog.FromContext(ctx).Debug("Simulated deployment.", "step", req.Step, "address", addr)
	return addr, nil
}

// SimulatedAddress is the address Simulated returns for a request.
func SimulatedAddress(network, step, argsHash string) string {
	sum := sha256.Sum256([]byte(network + "/" + step + "/" + argsHash))
	return "0x" + hex.EncodeToString(sum[:20])
}

// Command runs an external program once per deployment. The request is
// passed in DEPLOYGRID_* environment variables and the arguments as a JSON
// array on stdin. The last non-empty line the program prints is the
// artifact id.
type Command struct {
	// Path is the program to run.
	Path string
	// Args are passed to the program unchanged.
	Args []string
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is appended to the process environment.
	Env []string
}

var _ pipeline.Executor = (*Command)(nil)

// Deploy implements pipeline.Executor.
func (c *Command) Deploy(ctx context.Context, req pipeline.Request) (string, error) {
	logger := ctxlog.FromContext(ctx).With("step", req.Step, "command", c.Path)

	stdin, err := EncodeArgs(req.Args)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env, RequestEnv(req)...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Running deploy command.")
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("deploy command for %s: %w: %s", req.Step, err, msg)
		}
		return "", fmt.Errorf("deploy command for %s: %w", req.Step, err)
	}

	id := lastLine(stdout.Bytes())
	if id == "" {
		return "", fmt.Errorf("%s: %w", req.Step, ErrNoArtifactID)
	}
	logger.Debug("Deploy command finished.", "artifact_id", id)
	return id, nil
}

// RequestEnv returns the environment variables describing a request.
func RequestEnv(req pipeline.Request) []string {
	return []string{
		"DEPLOYGRID_NETWORK=" + req.Network,
		"DEPLOYGRID_STEP=" + req.Step,
		"DEPLOYGRID_ARTIFACT=" + req.Artifact,
		"DEPLOYGRID_FROM=" + req.From,
		"DEPLOYGRID_ARGS_HASH=" + req.ArgsHash,
	}
}

// EncodeArgs renders arguments as a JSON array.
func EncodeArgs(args []cty.Value) ([]byte, error) {
	if len(args) == 0 {
		return []byte("[]"), nil
	}
	tuple := cty.TupleVal(args)
	out, err := ctyjson.Marshal(tuple, tuple.Type())
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return out, nil
}

func lastLine(b []byte) string {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}
