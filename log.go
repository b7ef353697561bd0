package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
)

var log *logrus.Logger

// InitLog sets up the process logger from conf and the -l flag.
func InitLog() {
	l, closer, err := newLogger(conf.Output.LogDir, conf.Output.OutputTerminal, logLevel)
	if err != nil {
		panic("log file open failed: " + err.Error())
	}
	log = l
	if closer != nil {
		SafeExitInst.Register(func() { closer.Close() })
	}
}

func newLogger(logDir string, terminal bool, level string) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()
	l.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"run", "job", "depth"},
	})

	var (
		writers []io.Writer
		closer  io.Closer
	)
	if logDir != "" {
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			return nil, nil, err
		}
		filename := filepath.Join(logDir, time.Now().Format("2006-01-02.log"))
		file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, file)
		closer = file
	}
	if terminal || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	l.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(writers...)))

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l, closer, nil
}
