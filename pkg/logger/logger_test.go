package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapper_Levels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := FromZap(zap.New(core)).With("txn")

	log.Debug(errors.New("hidden"))
	log.Info(errors.New("shown"))
	log.Error(nil)
	log.Warnf("timeout %ds", 5)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, "shown", entries[0].Message)
	require.Equal(t, "txn", entries[0].LoggerName)
	require.Equal(t, "timeout 5s", entries[1].Message)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
}
