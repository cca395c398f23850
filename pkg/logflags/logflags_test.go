package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	defer Reset()

	err := Setup(false, "patch")
	assert.Equal(t, errLogstrWithoutLog, err)
	assert.Contains(t, err.Error(), "--log_output ")
	assert.NoError(t, Setup(false, ""))
	assert.False(t, Patch())

	assert.NoError(t, Setup(true, "stack, seh"))
	assert.True(t, Stack())
	assert.True(t, SEH())
	assert.False(t, Patch())
	assert.Equal(t, logrus.DebugLevel, StackLogger().Logger.Level)
	assert.Equal(t, logrus.PanicLevel, PatchLogger().Logger.Level)
	assert.Equal(t, "seh", SEHLogger().Data["layer"])
}

func TestSetupDefault(t *testing.T) {
	defer Reset()

	assert.NoError(t, Setup(true, ""))
	assert.True(t, Patch())
	assert.False(t, Bridge())

	assert.NoError(t, Setup(true, "all"))
	assert.True(t, Bridge())
	assert.True(t, Target())
}
