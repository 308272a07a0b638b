package logging

import (
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// L is the process-wide logger. It writes to stdout until Setup is called.
var L = newLogger(os.Stdout, logrus.InfoLevel)

// Setup points logging at a rotating file (plus stdout) and returns the file
// so the caller can close it on exit. The standard log package is redirected
// to the same destination.
func Setup(path string, level string) (*lumberjack.Logger, error) {
	f, err := OpenLogFile(path)
	if err != nil {
		return nil, err
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	dst := io.MultiWriter(f, os.Stdout)

	// set standard log
	log.SetOutput(dst)
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[STDLOG] ")

	L = newLogger(dst, lvl)
	return f, nil
}

// For returns an entry tagged with the component name, e.g. For("Manager").
func For(component string) *logrus.Entry {
	return L.WithField("component", component)
}

func newLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}
