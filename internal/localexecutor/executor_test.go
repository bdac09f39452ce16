package localexecutor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func request() pipeline.Request {
	return pipeline.Request{
		Network:  "sepolia",
		Step:     "ShareToken",
		Artifact: "ShareToken",
		From:     "deployer",
		Args:     []cty.Value{cty.StringVal("Share"), cty.NumberIntVal(6)},
		ArgsHash: "abc123",
	}
}

func TestSimulated_IsDeterministic(t *testing.T) {
	req := request()

	first, err := Simulated{}.Deploy(context.Background(), req)
	require.NoError(t, err)
	second, err := Simulated{}.Deploy(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 42)
	assert.Equal(t, SimulatedAddress("sepolia", "ShareToken", "abc123"), first)

	req.ArgsHash = "def456"
	other, err := Simulated{}.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestSimulated_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Simulated{}.Deploy(ctx, request())

	require.ErrorIs(t, err, context.Canceled)
}

func TestCommand_PassesRequestAndReadsLastLine(t *testing.T) {
	// Arrange
	sh := shell(t)
	out := filepath.Join(t.TempDir(), "stdin.json")
	cmd := &Command{
		Path: sh,
		Args: []string{"-c", `cat > "$CAPTURE"; echo "deploying $DEPLOYGRID_STEP from $DEPLOYGRID_FROM on $DEPLOYGRID_NETWORK"; echo "0x00000000000000000000000000000000000000cc"; echo`},
		Env:  []string{"CAPTURE=" + out},
	}

	// Act
	id, err := cmd.Deploy(context.Background(), request())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", id)
	stdin, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `["Share", 6]`, string(stdin))
}

func TestCommand_FailureCarriesStderr(t *testing.T) {
	cmd := &Command{Path: shell(t), Args: []string{"-c", `echo "insufficient funds" >&2; exit 3`}}

	_, err := cmd.Deploy(context.Background(), request())

	require.Error(t, err)
	assert.ErrorContains(t, err, "insufficient funds")
	var exitErr *exec.ExitError
	assert.ErrorAs(t, err, &exitErr)
}

func TestCommand_NoOutput(t *testing.T) {
	cmd := &Command{Path: shell(t), Args: []string{"-c", `cat >/dev/null`}}

	_, err := cmd.Deploy(context.Background(), request())

	require.ErrorIs(t, err, ErrNoArtifactID)
}

func TestEncodeArgs_Empty(t *testing.T) {
	out, err := EncodeArgs(nil)

	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestRequestEnv(t *testing.T) {
	env := RequestEnv(request())

	assert.Contains(t, env, "DEPLOYGRID_STEP=ShareToken")
	assert.Contains(t, env, "DEPLOYGRID_ARGS_HASH=abc123")
	assert.Contains(t, env, "DEPLOYGRID_ARTIFACT=ShareToken")
}
