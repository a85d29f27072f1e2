package update

import (
	"context"
	"errors"
	"testing"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/process"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func executorConfig(useSudo bool) *config.Config {
	cfg := &config.Config{}
	cfg.Update.ProjectDir = "/opt/supporit"
	cfg.Update.DeployScript = "scripts/update.sh"
	cfg.Update.RollbackScript = "/usr/local/bin/rollback.sh"
	cfg.Update.UseSudo = useSudo
	return cfg
}

func TestScriptExecutorDeployWithSudo(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := process.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), process.Command{
		Name: "sudo",
		Args: []string{"/opt/supporit/scripts/update.sh", "/tmp/release-v1.3.0.tar.gz", "/backups/b1"},
		Dir:  "/opt/supporit",
	}).Return(&process.Result{ExitCode: 0, Stdout: "done"}, nil)

	out, err := NewScriptExecutor(executorConfig(true), runner).Deploy(context.Background(), "/tmp/release-v1.3.0.tar.gz", "/backups/b1")
	require.NoError(t, err)
	require.Equal(t, 0, out.ExitCode)
	require.Equal(t, "done", out.Stdout)
}

func TestScriptExecutorRollbackWithoutSudo(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := process.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), process.Command{
		Name: "/usr/local/bin/rollback.sh",
		Args: []string{"/backups/b1"},
		Dir:  "/opt/supporit",
	}).Return(&process.Result{ExitCode: 0}, nil)

	_, err := NewScriptExecutor(executorConfig(false), runner).Rollback(context.Background(), "/backups/b1")
	require.NoError(t, err)
}

func TestScriptExecutorNonZeroExit(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := process.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		Return(&process.Result{ExitCode: 3, Stderr: "migration failed"}, nil)

	out, err := NewScriptExecutor(executorConfig(false), runner).Deploy(context.Background(), "a", "b")
	require.ErrorIs(t, err, ErrDeployScriptFailed)
	require.Contains(t, err.Error(), "exit code 3")
	require.Contains(t, err.Error(), "migration failed")
	require.NotNil(t, out)
	require.Equal(t, 3, out.ExitCode)
}

func TestScriptExecutorSpawnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := process.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil, errors.New("exec: not found"))

	out, err := NewScriptExecutor(executorConfig(false), runner).Rollback(context.Background(), "b")
	require.ErrorIs(t, err, ErrRollbackScriptFailed)
	require.Nil(t, out)
}
