package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, Configure("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, Configure("", ""))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())

	assert.Error(t, Configure("loud", "text"))
	assert.Error(t, Configure("info", "xml"))
}

func TestConfigure_EnvOverride(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	t.Setenv(EnvLogLevel, "warn")

	require.NoError(t, Configure("debug", "text"))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}
