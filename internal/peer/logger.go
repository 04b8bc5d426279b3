package peer

import (
	golog "github.com/ipfs/go-log/v2"
	"github.com/pion/logging"
)

// goLogFactory routes pion's internal logging through go-log so WebRTC
// subsystems can be tuned with golog.SetLogLevelRegex("webrtc/.*", level).
type goLogFactory struct{}

func (goLogFactory) NewLogger(scope string) logging.LeveledLogger {
	return &goLogLogger{l: golog.Logger("webrtc/" + scope)}
}

type goLogLogger struct{ l *golog.ZapEventLogger }

func (g *goLogLogger) Trace(msg string)                  { g.l.Debug(msg) }
func (g *goLogLogger) Tracef(format string, args ...any) { g.l.Debugf(format, args...) }
func (g *goLogLogger) Debug(msg string)                  { g.l.Debug(msg) }
func (g *goLogLogger) Debugf(format string, args ...any) { g.l.Debugf(format, args...) }
func (g *goLogLogger) Info(msg string)                   { g.l.Info(msg) }
func (g *goLogLogger) Infof(format string, args ...any)  { g.l.Infof(format, args...) }
func (g *goLogLogger) Warn(msg string)                   { g.l.Warn(msg) }
func (g *goLogLogger) Warnf(format string, args ...any)  { g.l.Warnf(format, args...) }
func (g *goLogLogger) Error(msg string)                  { g.l.Error(msg) }
func (g *goLogLogger) Errorf(format string, args ...any) { g.l.Errorf(format, args...) }

// SetLogLevel sets the go-log level for every WebRTC subsystem.
func SetLogLevel(level string) error {
	return golog.SetLogLevelRegex("webrtc/.*", level)
}
