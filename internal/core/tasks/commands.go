package tasks

import (
	"context"
	"fmt"
	"time"
)

// CommandKind names a device capability that heartbeat and once runners
// (and instant command requests) can invoke.
type CommandKind string

func (k CommandKind) String() string { return string(k) }

const (
	CmdCheckDevice           CommandKind = "check_device"
	CmdCheckRoot             CommandKind = "check_root"
	CmdGetDeviceProperties   CommandKind = "get_device_properties"
	CmdGetUsers              CommandKind = "get_users"
	CmdGetIMEI               CommandKind = "get_imei"
	CmdGetUIN                CommandKind = "get_uin"
	CmdCreateProject         CommandKind = "create_project"
	CmdGetExistProjects      CommandKind = "get_exist_projects"
	CmdDeleteFile            CommandKind = "delete_file"
	CmdStopTask              CommandKind = "stop_task"
	CmdCheckDBSize           CommandKind = "check_db_size"
	CmdCheckDecryptProgress  CommandKind = "check_decrypt_progress"
	CmdCheckResourceProgress CommandKind = "check_resource_progress"
)

// Outcome is what a command's work function produces.
type Outcome struct {
	Success bool
	Data    any
	Message string
}

// Result is the tuple pushed to clients: (command, name, success, data, message).
type Result struct {
	Command string `json:"command"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func NewResult(command, name string, out Outcome) Result {
	return Result{Command: command, Name: name, Success: out.Success, Data: out.Data, Message: out.Message}
}

// Callback delivers a result to every subscriber of channel.
type Callback func(channel string, r Result)

type (
	WorkFunc  func(ctx context.Context, name string, params Params) Outcome
	AliveFunc func(ctx context.Context, name string, params Params) bool
)

// Command pairs a work function with an optional liveness predicate.
type Command struct {
	Work  WorkFunc
	Alive AliveFunc
}

type CommandTable map[CommandKind]Command

func (t CommandTable) Resolve(kind CommandKind) (Command, error) {
	cmd, ok := t[kind]
	if !ok || cmd.Work == nil {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, kind)
	}
	return cmd, nil
}

// Merge returns a table holding the entries of t overridden by other.
func (t CommandTable) Merge(other CommandTable) CommandTable {
	out := make(CommandTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ProgressCheck builds the command a pipeline's checker heartbeat runs. The
// work function samples params["progress"]; onSample, if set, sees every
// sample first. The liveness predicate turns false once the sample is
// terminal, after waiting one checker interval so the final sample is
// emitted before the checker is reaped.
func ProgressCheck(onSample func(ctx context.Context, p Progress)) Command {
	return Command{
		Work: func(ctx context.Context, name string, params Params) Outcome {
			sample, ok := params.ProgressSource("progress")
			if !ok {
				return Outcome{Success: false, Message: "progress source missing"}
			}
			p := sample()
			if onSample != nil {
				onSample(ctx, p)
			}
			return Outcome{Success: true, Data: p}
		},
		Alive: func(ctx context.Context, name string, params Params) bool {
			sample, ok := params.ProgressSource("progress")
			if !ok {
				return false
			}
			if !sample().Terminal() {
				return true
			}
			settle(ctx, params.Duration("interval", 0))
			return false
		},
	}
}

// ProgressCommands is the checker table shared by every pipeline.
func ProgressCommands() CommandTable {
	return CommandTable{
		CmdCheckDBSize:           ProgressCheck(nil),
		CmdCheckDecryptProgress:  ProgressCheck(nil),
		CmdCheckResourceProgress: ProgressCheck(nil),
	}
}

func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
