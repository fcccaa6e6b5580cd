package logging

// Logger is the printf-style logging interface passed by reference into
// every component. Components never construct their own backend.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type prefixLogger struct {
	prefix string
	base   Logger
}

// NewPrefixLogger returns a logger that prepends a fixed prefix to every
// message before delegating to the base logger.
func NewPrefixLogger(prefix string, base Logger) Logger {
	return &prefixLogger{
		prefix: prefix,
		base:   base,
	}
}

func (l *prefixLogger) Debugf(format string, args ...interface{}) {
	l.base.Debugf(l.prefix+format, args...)
}

func (l *prefixLogger) Infof(format string, args ...interface{}) {
	l.base.Infof(l.prefix+format, args...)
}

func (l *prefixLogger) Warnf(format string, args ...interface{}) {
	l.base.Warnf(l.prefix+format, args...)
}

func (l *prefixLogger) Errorf(format string, args ...interface{}) {
	l.base.Errorf(l.prefix+format, args...)
}
