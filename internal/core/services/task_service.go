package services

import (
	"context"
	"fmt"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/infrastructure/logger"
)

// EventTaskResponse is the push event every runner result is published as.
const EventTaskResponse = "task_response"

// Reply messages.
const (
	msgTaskInitError = "Task init error"
	msgKillTaskError = "Kill task error"
	killTaskCommand  = "Kill task"
)

// TaskService is the request-facing side of the task daemon.
type TaskService struct {
	daemon    *tasks.Daemon
	publisher ports.Publisher
	projects  ports.ProjectService
	channel   string
	logger    *logger.Logger
}

type TaskServiceConfig struct {
	Daemon    *tasks.Daemon
	Publisher ports.Publisher
	// Projects, when set, supplies user and key params a pipeline
	// request leaves out.
	Projects ports.ProjectService
	// Channel is the only device channel requests may name.
	Channel string
	Logger  *logger.Logger
}

func NewTaskService(cfg TaskServiceConfig) *TaskService {
	channel := cfg.Channel
	if channel == "" {
		channel = tasks.DefaultChannel
	}
	return &TaskService{
		daemon:    cfg.Daemon,
		publisher: cfg.Publisher,
		projects:  cfg.Projects,
		channel:   channel,
		logger:    cfg.Logger,
	}
}

type AddTaskInput struct {
	Name     string
	Channel  string
	Category string
	Params   tasks.Params
}

// AddTask registers a runner. The reply is (category, name, added, nil, msg).
func (s *TaskService) AddTask(ctx context.Context, in AddTaskInput) tasks.Result {
	reply := tasks.Result{Command: in.Category, Name: in.Name}
	if in.Name == "" || in.Category == "" || in.Channel != s.channel {
		reply.Message = msgTaskInitError
		return reply
	}

	params := s.withProjectParams(ctx, in.Name, in.Category, in.Params)
	ok, err := s.daemon.AddTask(ctx, in.Name, in.Category, s.Publish, params)
	if err != nil {
		s.logger.Warnw("task_add_rejected", "task", in.Name, "category", in.Category, "error", err)
		reply.Message = msgTaskInitError
		return reply
	}
	reply.Success = ok
	return reply
}

// KillTask removes a runner. The reply is ("Kill task", name, killed, nil, msg).
func (s *TaskService) KillTask(ctx context.Context, name string) tasks.Result {
	reply := tasks.Result{Command: killTaskCommand, Name: name}
	if name == "" {
		reply.Message = msgKillTaskError
		return reply
	}
	ok, err := s.daemon.KillTask(ctx, name)
	if err != nil {
		s.logger.Warnw("task_kill_failed", "task", name, "error", err)
		reply.Message = msgKillTaskError
		return reply
	}
	reply.Success = ok
	return reply
}

func (s *TaskService) QueryTasks(ctx context.Context) ([]tasks.TaskInfo, error) {
	return s.daemon.QueryTasks(ctx)
}

// StopTask asks a runner to stop itself. The runner stays registered until
// the daemon reaps it.
func (s *TaskService) StopTask(ctx context.Context, name string) (tasks.StopResult, error) {
	v, err := s.daemon.Call(ctx, name, tasks.MethodStop, tasks.StopByUser)
	if err != nil {
		return tasks.StopResult{}, err
	}
	res, ok := v.(tasks.StopResult)
	if !ok {
		return tasks.StopResult{}, fmt.Errorf("unexpected stop result %T", v)
	}
	return res, nil
}

func (s *TaskService) Progress(ctx context.Context, name string) (tasks.Progress, error) {
	v, err := s.daemon.Call(ctx, name, tasks.MethodProgress)
	if err != nil {
		return nil, err
	}
	p, ok := v.(tasks.Progress)
	if !ok {
		return nil, fmt.Errorf("unexpected progress result %T", v)
	}
	return p, nil
}

// Publish is the callback handed to every runner.
func (s *TaskService) Publish(channel string, r tasks.Result) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(channel, EventTaskResponse, r)
}

// withProjectParams fills the device user and store key of the project a
// pipeline task is named after.
func (s *TaskService) withProjectParams(ctx context.Context, name, category string, params tasks.Params) tasks.Params {
	out := params.Clone()
	if s.projects == nil {
		return out
	}

	var want string
	switch category {
	case tasks.CategoryTransfer, tasks.CategoryExtract:
		want = "user"
	case tasks.CategoryDecrypt:
		want = "password"
	default:
		return out
	}
	if _, ok := out.String(want); ok {
		return out
	}

	switch want {
	case "user":
		project, err := s.projects.GetProject(ctx, name)
		if err != nil {
			s.logger.Debugw("task_project_lookup_failed", "task", name, "error", err)
			return out
		}
		out["user"] = project.User
	case "password":
		key, err := s.projects.StoreKey(ctx, name)
		if err != nil {
			s.logger.Debugw("task_project_lookup_failed", "task", name, "error", err)
			return out
		}
		out["password"] = key
	}
	return out
}
