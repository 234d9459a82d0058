package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrecedence(t *testing.T) {
	t.Setenv("ATS_TEST_KEY", "from-os")
	Env = map[string]string{"ATS_FILE_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "from-file", GetEnv("ATS_FILE_KEY", "def"))
	assert.Equal(t, "from-os", GetEnv("ATS_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("ATS_MISSING_KEY", "def"))
}

func TestIsDev(t *testing.T) {
	Env = map[string]string{"APP_ENV": "dev"}
	t.Cleanup(func() { Env = nil })
	assert.True(t, IsDev())

	Env = map[string]string{"APP_ENV": "prod"}
	assert.False(t, IsDev())
}
