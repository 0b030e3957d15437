package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Fields = logrus.Fields

var log = New(os.Stdout)

// New builds a JSON logger writing to out. LOG_LEVEL selects the level.
func New(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

func Init() {
	log = New(os.Stdout)
}

// SetOutput redirects the package logger, mainly for tests.
func SetOutput(out io.Writer) {
	log.SetOutput(out)
}

func WithFields(fields Fields) *logrus.Entry {
	return log.WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return log.WithError(err)
}

// Info logs msg with optional key/value pairs.
func Info(msg string, kv ...interface{}) {
	log.WithFields(pairs(kv)).Info(msg)
}

func Infof(format string, v ...interface{}) {
	log.Infof(format, v...)
}

func Warn(msg string, kv ...interface{}) {
	log.WithFields(pairs(kv)).Warn(msg)
}

func Warnf(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

func Error(msg string, kv ...interface{}) {
	log.WithFields(pairs(kv)).Error(msg)
}

func Errorf(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

func Debug(msg string, kv ...interface{}) {
	log.WithFields(pairs(kv)).Debug(msg)
}

func Debugf(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

func Fatal(msg string, kv ...interface{}) {
	log.WithFields(pairs(kv)).Fatal(msg)
}

func Fatalf(format string, v ...interface{}) {
	log.Fatalf(format, v...)
}

func pairs(kv []interface{}) Fields {
	fields := make(Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		fields["extra"] = kv[len(kv)-1]
	}
	return fields
}
