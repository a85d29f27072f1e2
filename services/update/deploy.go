package update

import (
	"context"
	"fmt"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/process"
)

// ScriptExecutor runs the external deploy and rollback scripts.
type ScriptExecutor struct {
	runner         process.Runner
	projectDir     string
	deployScript   string
	rollbackScript string
	useSudo        bool
}

func NewScriptExecutor(cfg *config.Config, runner process.Runner) *ScriptExecutor {
	return &ScriptExecutor{
		runner:         runner,
		projectDir:     cfg.Update.ProjectDir,
		deployScript:   cfg.ScriptPath(cfg.Update.DeployScript),
		rollbackScript: cfg.ScriptPath(cfg.Update.RollbackScript),
		useSudo:        cfg.Update.UseSudo,
	}
}

func (e *ScriptExecutor) command(script string, args ...string) process.Command {
	if e.useSudo {
		return process.Command{Name: "sudo", Args: append([]string{script}, args...), Dir: e.projectDir}
	}
	return process.Command{Name: script, Args: args, Dir: e.projectDir}
}

func (e *ScriptExecutor) Deploy(ctx context.Context, artifactPath, backupPath string) (*ScriptOutput, error) {
	return e.run(ctx, e.command(e.deployScript, artifactPath, backupPath), ErrDeployScriptFailed)
}

func (e *ScriptExecutor) Rollback(ctx context.Context, backupPath string) (*ScriptOutput, error) {
	return e.run(ctx, e.command(e.rollbackScript, backupPath), ErrRollbackScriptFailed)
}

func (e *ScriptExecutor) run(ctx context.Context, cmd process.Command, failure error) (*ScriptOutput, error) {
	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", failure, err)
	}

	out := &ScriptOutput{
		ExitCode: res.ExitCode,
		Stdout:   process.Tail(res.Stdout, 4096),
		Stderr:   process.Tail(res.Stderr, 4096),
	}
	if !res.Success() {
		return out, fmt.Errorf("%w: exit code %d: %s", failure, res.ExitCode, process.Tail(res.Stderr, 512))
	}
	return out, nil
}
