package mls

import "go.uber.org/zap"

// logger is the package-wide structured logger. The façade logs an
// Error entry immediately before returning any wrapped error that
// crosses the group boundary (spec.md §7: errors are surfaced, never
// swallowed) and a Debug entry on every successful epoch transition.
var logger = zap.NewNop()

// SetLogger installs l as the package logger. Callers embedding this
// module in a service typically pass their own zap.Logger here;
// the default is a no-op sink.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}

func logError(op string, groupID []byte, err error) {
	logger.Error("mls operation failed",
		zap.String("op", op),
		zap.Binary("group_id", groupID),
		zap.Error(err),
	)
}

func logEpoch(op string, groupID []byte, epoch uint64) {
	logger.Debug("mls epoch transition",
		zap.String("op", op),
		zap.Binary("group_id", groupID),
		zap.Uint64("epoch", epoch),
	)
}
