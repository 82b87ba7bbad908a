package session

import (
	"context"

	"personalchat/internal/chat"
)

type JobType string

const (
	Send  JobType = "send"
	Image JobType = "image"
	Stop  JobType = "stop"
)

type sendTask struct {
	ctx      context.Context
	session  *Session
	prompt   string
	model    string
	notify   chat.Notifier
	resultCh chan error
}

type imageResult struct {
	ref string
	err error
}

type imageTask struct {
	ctx      context.Context
	session  *Session
	prompt   string
	notify   chat.Notifier
	resultCh chan imageResult
}

type Job struct {
	Type      JobType
	SendTask  *sendTask
	ImageTask *imageTask
}

func (job Job) sessionKey() string {
	switch job.Type {
	case Send:
		if job.SendTask != nil && job.SendTask.session != nil {
			return job.SendTask.session.Key()
		}
	case Image:
		if job.ImageTask != nil && job.ImageTask.session != nil {
			return job.ImageTask.session.Key()
		}
	}
	return ""
}
