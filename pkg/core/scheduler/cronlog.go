package scheduler

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/robfig/cron/v3"
)

// cronLogger 把 cron 内部日志转到 watermill 日志
type cronLogger struct {
	logger watermill.LoggerAdapter
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Trace("cron: "+msg, toFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, toFields(keysAndValues))
}

func toFields(kv []interface{}) watermill.LogFields {
	fields := watermill.LogFields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	return fields
}
