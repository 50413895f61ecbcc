package model

import "time"

// PendingAttempt 持久化失败时排队等待服务端重放的提交
type PendingAttempt struct {
	ID       string      `json:"id"`
	UserID   uint        `json:"userId"`
	Attempt  QuizAttempt `json:"attempt"`
	QueuedAt time.Time   `json:"queuedAt"`
	Retries  int         `json:"retries"`
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID uint   `json:"userId"`
	Name   string `json:"name,omitempty"`
	Points int    `json:"points"`
	Level  int    `json:"level"`
}
