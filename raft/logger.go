package raft

import (
	"log"
	"os"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type stdLogger struct {
	l *log.Logger
}

// NewStdLogger prefix 一般为 "T <groupID> P <serverID>: " 的形式
func NewStdLogger(prefix string) Logger {
	return &stdLogger{l: log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds)}
}

func (s *stdLogger) Debugf(format string, args ...interface{}) {
	s.l.Printf("[DEBUG] "+format, args...)
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	s.l.Printf("[INFO] "+format, args...)
}

func (s *stdLogger) Warnf(format string, args ...interface{}) {
	s.l.Printf("[WARN] "+format, args...)
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("[ERROR] "+format, args...)
}
