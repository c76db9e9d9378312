package dto

import (
	"github.com/devault/backend/internal/core/tasks"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// CommandRequest is the body of an exec_command call.
type CommandRequest struct {
	Name    string         `json:"name"`
	Channel string         `json:"channel"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// TaskRequest is the body of an add_task call.
type TaskRequest struct {
	Name     string         `json:"name"`
	Channel  string         `json:"channel"`
	Category string         `json:"category"`
	Params   map[string]any `json:"params,omitempty"`
}

// ChannelOrDefault lets clients omit the channel.
func ChannelOrDefault(channel string) string {
	if channel == "" {
		return tasks.DefaultChannel
	}
	return channel
}

type TaskListResponse struct {
	Tasks []tasks.TaskInfo `json:"tasks"`
}

type ProgressResponse struct {
	Name     string         `json:"name"`
	Progress tasks.Progress `json:"progress"`
}

// SocketFrame is the envelope pushed to websocket subscribers.
type SocketFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
