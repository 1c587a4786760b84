package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	require.Equal(t, buff.Len(), 0)
	templogger.Logger.Info().Msg("Test")
	require.Contains(t, buff.String(), "Test")
	require.NoError(t, templogger.Close())
}

func TestLog_Level(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).WithLevel("WARN").Make()
	require.NoError(t, err)

	templogger.Logger.Info().Msg("hidden")
	require.Zero(t, buff.Len())
	templogger.Logger.Warn().Msg("shown")
	require.Contains(t, buff.String(), "shown")

	_, err = logger.New().WithLevel("loud").Make()
	require.Error(t, err)
}

func TestLog_FromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datamigration.log")
	templogger, err := logger.New().FromPath(path).Make()
	require.NoError(t, err)

	templogger.Logger.Info().Str("plugin", "entities").Msg("Starting data migration")
	require.NoError(t, templogger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"plugin":"entities"`)
}

func TestStdLogger(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).WithLevel("debug").Make()
	require.NoError(t, err)

	std := logger.NewStdLogger(&templogger.Logger, zerolog.DebugLevel)
	std.Printf("gocql: unable to dial %s\n", "10.0.0.1")
	require.Contains(t, buff.String(), `"level":"debug"`)
	require.Contains(t, buff.String(), `"message":"gocql: unable to dial 10.0.0.1"`)

	buff.Reset()
	std.Println("control connection", "up")
	require.Contains(t, buff.String(), `"message":"control connection up"`)

	require.NotPanics(t, func() { logger.NewStdLogger(nil, zerolog.InfoLevel).Print("dropped") })
}
