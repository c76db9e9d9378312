package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/infrastructure/logger"
)

const (
	msgCommandInitError = "Command init error"
	userDirNameLen      = 32
)

var (
	quotedRe = regexp.MustCompile(`'([^']*)'`)
	uinRe    = regexp.MustCompile(`default_uin" value="(-?[0-9]*)`)
	propRe   = regexp.MustCompile(`^\[([^\]]+)\]:\s*\[(.*)\]$`)
)

// RunnerCaller dispatches a method on a registered runner.
type RunnerCaller interface {
	Call(ctx context.Context, name string, method tasks.RunnerMethod, args ...any) (any, error)
}

// CommandService runs device commands, both as instant requests and as
// work functions of heartbeat and once runners.
type CommandService struct {
	transport ports.DeviceTransport
	projects  ports.ProjectService
	layout    tasks.Layout
	logger    *logger.Logger

	mu     sync.RWMutex
	caller RunnerCaller
}

type CommandServiceConfig struct {
	Transport ports.DeviceTransport
	Projects  ports.ProjectService
	Layout    tasks.Layout
	Logger    *logger.Logger
}

func NewCommandService(cfg CommandServiceConfig) *CommandService {
	return &CommandService{
		transport: cfg.Transport,
		projects:  cfg.Projects,
		layout:    cfg.Layout,
		logger:    cfg.Logger,
	}
}

// AttachDaemon wires stop_task to the daemon once it exists.
func (s *CommandService) AttachDaemon(caller RunnerCaller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caller = caller
}

func (s *CommandService) daemon() RunnerCaller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caller
}

// Table is the command table handed to the daemon.
func (s *CommandService) Table() tasks.CommandTable {
	return tasks.CommandTable{
		tasks.CmdCheckDevice:           {Work: s.checkDevice},
		tasks.CmdCheckRoot:             {Work: s.checkRoot},
		tasks.CmdGetDeviceProperties:   {Work: s.getDeviceProperties},
		tasks.CmdGetUsers:              {Work: s.getUsers},
		tasks.CmdGetIMEI:               {Work: s.getIMEI},
		tasks.CmdGetUIN:                {Work: s.getUIN},
		tasks.CmdCreateProject:         {Work: s.createProject},
		tasks.CmdGetExistProjects:      {Work: s.getExistProjects},
		tasks.CmdDeleteFile:            {Work: s.deleteFile},
		tasks.CmdStopTask:              {Work: s.stopTask},
		tasks.CmdCheckResourceProgress: tasks.ProgressCheck(s.saveResourceSize),
	}
}

type ExecInput struct {
	Name    string
	Channel string
	Command string
	Params  tasks.Params
}

// Exec runs a command synchronously and returns the five-field reply.
func (s *CommandService) Exec(ctx context.Context, in ExecInput) tasks.Result {
	if in.Name == "" || in.Command == "" || in.Channel != tasks.DefaultChannel {
		return tasks.Result{Command: in.Command, Name: in.Name, Data: false, Message: msgCommandInitError}
	}
	cmd, err := s.Table().Resolve(tasks.CommandKind(in.Command))
	if err != nil {
		s.logger.Warnw("command_unknown", "command", in.Command, "name", in.Name)
		return tasks.Result{Command: in.Command, Name: in.Name, Data: false, Message: msgCommandInitError}
	}
	params := in.Params
	if params == nil {
		params = tasks.Params{}
	}
	out := cmd.Work(ctx, in.Name, params)
	s.logger.Debugw("command_exec", "command", in.Command, "name", in.Name, "success", out.Success)
	return tasks.NewResult(in.Command, in.Name, out)
}

func (s *CommandService) withDevice(ctx context.Context, fn func(dev ports.Device) error) error {
	if s.transport == nil {
		return ports.ErrNoDevice
	}
	dev, err := s.transport.Current(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()
	return fn(dev)
}

// withRoot is withDevice for commands that need a root shell.
func (s *CommandService) withRoot(ctx context.Context, fn func(dev ports.Device) error) error {
	return s.withDevice(ctx, func(dev ports.Device) error {
		if !isRoot(ctx, dev) {
			return ErrDeviceNotRooted
		}
		return fn(dev)
	})
}

func isRoot(ctx context.Context, dev ports.Device) bool {
	out, err := dev.Shell(ctx, "whoami")
	return err == nil && strings.TrimRight(out, " \t\r\n") == "root"
}

func (s *CommandService) checkDevice(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	serial := ""
	_ = s.withDevice(ctx, func(dev ports.Device) error {
		serial = dev.Serial()
		return nil
	})
	return tasks.Outcome{Success: true, Data: serial}
}

func (s *CommandService) checkRoot(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	root := false
	_ = s.withDevice(ctx, func(dev ports.Device) error {
		root = isRoot(ctx, dev)
		return nil
	})
	return tasks.Outcome{Success: true, Data: root}
}

func (s *CommandService) getDeviceProperties(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	var props any = ""
	_ = s.withDevice(ctx, func(dev ports.Device) error {
		out, err := dev.Shell(ctx, "getprop")
		if err != nil {
			return err
		}
		props = parseProperties(out)
		return nil
	})
	return tasks.Outcome{Success: true, Data: props}
}

func (s *CommandService) getUsers(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	var users []string
	err := s.withRoot(ctx, func(dev ports.Device) error {
		out, err := dev.Shell(ctx, "ls "+s.layout.ResDir)
		if err != nil {
			return err
		}
		users = parseUsers(out)
		return nil
	})
	if err != nil {
		return tasks.Outcome{Success: false, Data: []string{}, Message: "The rooted Android device has not been connected yet"}
	}
	if len(users) == 0 {
		return tasks.Outcome{Success: true, Data: []string{}, Message: "No valid users found"}
	}
	return tasks.Outcome{
		Success: true,
		Data:    users,
		Message: fmt.Sprintf("%d users have been found, please select the users that need to be processed", len(users)),
	}
}

func (s *CommandService) getIMEI(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	var imei []string
	err := s.withRoot(ctx, func(dev ports.Device) error {
		out, err := dev.Shell(ctx, "service call iphonesubinfo 1")
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty response")
		}
		imei = parseIMEI(out)
		return nil
	})
	if err != nil {
		return tasks.Outcome{Success: false, Data: []string{}, Message: "Failed to get IMEI"}
	}
	return tasks.Outcome{Success: true, Data: imei, Message: fmt.Sprintf("Successfully get IMEI: %s", strings.Join(imei, ","))}
}

func (s *CommandService) getUIN(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	uin := ""
	err := s.withRoot(ctx, func(dev ports.Device) error {
		out, err := dev.Shell(ctx, "cat "+s.layout.DBDir+"/shared_prefs/system_config_prefs.xml")
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty response")
		}
		uin = parseUIN(out)
		return nil
	})
	if err != nil {
		return tasks.Outcome{Success: false, Data: "", Message: "Failed to get UIN"}
	}
	return tasks.Outcome{Success: true, Data: uin, Message: "Successfully get UIN: " + uin}
}

func (s *CommandService) createProject(ctx context.Context, name string, params tasks.Params) tasks.Outcome {
	user, _ := params.String("user")
	key, _ := params.String("password")
	_, err := s.projects.CreateProject(ctx, ports.CreateProjectInput{Name: name, User: user, StoreKey: key})
	if err != nil {
		s.logger.Warnw("project_create_failed", "name", name, "error", err)
		return tasks.Outcome{Success: false, Message: "Failed to create project"}
	}
	return tasks.Outcome{Success: true, Data: name, Message: "Project create..."}
}

func (s *CommandService) getExistProjects(ctx context.Context, _ string, _ tasks.Params) tasks.Outcome {
	projects, err := s.projects.ListProjects(ctx)
	if err != nil {
		s.logger.Errorw("project_list_failed", "error", err)
		return tasks.Outcome{Success: false, Message: "Failed to list projects"}
	}
	return tasks.Outcome{Success: true, Data: projects}
}

// artifactTypes maps the short codes browser clients send to artifacts.
var artifactTypes = map[string]ports.Artifact{
	"En": ports.ArtifactEncryptedDB,
	"De": ports.ArtifactDecryptedDB,
	"Re": ports.ArtifactResources,
}

func (s *CommandService) deleteFile(ctx context.Context, name string, params tasks.Params) tasks.Outcome {
	typ, _ := params.String("type")
	artifact, ok := artifactTypes[typ]
	if !ok {
		artifact = ports.Artifact(typ)
	}
	data := map[string]any{"projectName": name, "type": typ, "success": false}

	if err := s.projects.DeleteArtifact(ctx, name, artifact); err != nil {
		s.logger.Warnw("project_artifact_delete_rejected", "name", name, "type", typ, "error", err)
		return tasks.Outcome{Success: false, Data: data, Message: "Delete failed, error on operate file"}
	}
	data["success"] = true
	return tasks.Outcome{Success: true, Data: data, Message: fmt.Sprintf("%s was deleted", artifact)}
}

func (s *CommandService) stopTask(ctx context.Context, name string, params tasks.Params) tasks.Outcome {
	typ, _ := params.String("type")
	data := map[string]any{"projectName": name, "type": typ}

	caller := s.daemon()
	if caller == nil {
		return tasks.Outcome{Success: false, Data: data, Message: "Task daemon not started"}
	}
	v, err := caller.Call(ctx, name, tasks.MethodStop, tasks.StopByUser)
	if err != nil {
		return tasks.Outcome{Success: false, Data: data, Message: err.Error()}
	}
	res, _ := v.(tasks.StopResult)
	return tasks.Outcome{Success: res.OK, Data: data, Message: res.Message}
}

// saveResourceSize records how much of a project's resources is on disk.
func (s *CommandService) saveResourceSize(ctx context.Context, p tasks.Progress) {
	ep, ok := p.(tasks.ExtractProgress)
	if !ok || ep.Progress == tasks.ProgressError || ep.Current <= 0 {
		return
	}
	if err := s.projects.SetResourceSize(ctx, ep.ProjectName, ep.Current); err != nil {
		s.logger.Warnw("resource_size_save_failed", "project", ep.ProjectName, "error", err)
	}
}

func splitLines(out string) []string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	return strings.Split(out, "\n")
}

func parseUsers(out string) []string {
	users := []string{}
	for _, line := range splitLines(out) {
		line = strings.TrimSpace(line)
		if len(line) == userDirNameLen {
			users = append(users, line)
		}
	}
	return users
}

func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range splitLines(out) {
		if m := propRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			props[m[1]] = m[2]
		}
	}
	return props
}

// parseIMEI joins the quoted ASCII columns of a parcel dump.
func parseIMEI(out string) []string {
	var b strings.Builder
	for _, m := range quotedRe.FindAllStringSubmatch(out, -1) {
		b.WriteString(strings.TrimRight(strings.ReplaceAll(m[1], ".", ""), " \t\r\n"))
	}
	return strings.Split(b.String(), "\n")
}

func parseUIN(out string) string {
	if m := uinRe.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}
