package services

import "errors"

// Project errors
var (
	ErrProjectNotFound      = errors.New("project: not found")
	ErrProjectAlreadyExists = errors.New("project: name already exists")
	ErrProjectInvalidInput  = errors.New("project: invalid input")
	ErrUnknownArtifact      = errors.New("project: unknown artifact type")
)

// Command errors
var (
	ErrCommandInvalidInput = errors.New("command: invalid input")
	ErrDeviceNotRooted     = errors.New("command: device is not rooted")
	ErrDaemonNotAttached   = errors.New("command: task daemon not started")
)

// Task errors
var (
	ErrTaskInvalidInput = errors.New("task: invalid input")
)

// Encryption errors
var (
	ErrEncryptionFailed = errors.New("encryption: failed to encrypt data")
	ErrDecryptionFailed = errors.New("encryption: failed to decrypt data")
)

// Key errors
var (
	ErrKeysNotInitialized = errors.New("keys: device key pair not initialized")
)
