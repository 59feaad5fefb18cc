package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Name    string        `mapstructure:"name"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`

	completed   bool
	validateErr error
}

func (o *testOptions) Flags() (fss NamedFlagSets) {
	fs := fss.FlagSet("test")
	fs.StringVar(&o.Name, "name", o.Name, "Name.")
	fs.IntVar(&o.Port, "port", o.Port, "Port.")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Timeout.")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	return o.validateErr
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(opts *testOptions, ran *bool) *App {
	return NewApp(
		WithName("test-app"),
		WithOptions(opts),
		WithSilence(),
		WithCommands(&Command{
			Use: "run",
			Run: func(context.Context, []string) error {
				*ran = true
				return nil
			},
		}),
	)
}

func TestApp_ConfigPrecedence(t *testing.T) {
	path := writeConfig(t, "name: from-file\nport: 1000\ntimeout: 5s\n")
	t.Setenv("TEST_APP_PORT", "2000")

	opts := &testOptions{Name: "default", Port: 1}
	var ran bool
	a := newTestApp(opts, &ran)
	assert.Equal(t, "TEST_APP", a.EnvPrefix())

	a.Command().SetArgs([]string{"run", "-c", path, "--name", "from-flag"})
	require.NoError(t, a.Command().Execute())

	assert.True(t, ran)
	assert.True(t, opts.completed)
	assert.Equal(t, "from-flag", opts.Name)
	assert.Equal(t, 2000, opts.Port)
	assert.Equal(t, 5*time.Second, opts.Timeout)
}

func TestApp_ExpandsEnvInConfig(t *testing.T) {
	path := writeConfig(t, "name: ${TEST_APP_SECRET_NAME}\n")
	t.Setenv("TEST_APP_SECRET_NAME", "expanded")

	opts := &testOptions{}
	var ran bool
	a := newTestApp(opts, &ran)
	a.Command().SetArgs([]string{"run", "-c", path})
	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "expanded", opts.Name)
}

func TestApp_ValidationError(t *testing.T) {
	opts := &testOptions{validateErr: errors.New("port is required")}
	var ran bool
	a := newTestApp(opts, &ran)
	a.Command().SetArgs([]string{"run", "-c", writeConfig(t, "port: 0\n")})

	err := a.Command().Execute()
	assert.EqualError(t, err, "port is required")
	assert.False(t, ran)
}

func TestApp_InvalidEnvValue(t *testing.T) {
	t.Setenv("TEST_APP_PORT", "not-a-number")
	opts := &testOptions{}
	var ran bool
	a := newTestApp(opts, &ran)
	a.Command().SetArgs([]string{"run", "-c", writeConfig(t, "name: x\n")})

	err := a.Command().Execute()
	assert.ErrorContains(t, err, "TEST_APP_PORT")
	assert.False(t, ran)
}

func TestApp_NestedCommandsAndFlags(t *testing.T) {
	var got []string
	var force bool
	a := NewApp(
		WithName("test-app"),
		WithOptions(&testOptions{}),
		WithSilence(),
		WithCommands(&Command{
			Use: "cache",
			Commands: []*Command{{
				Use:   "clear",
				Flags: func(fs *pflag.FlagSet) { fs.BoolVar(&force, "force", false, "") },
				Run: func(_ context.Context, args []string) error {
					got = args
					return nil
				},
			}},
		}),
	)
	a.Command().SetArgs([]string{"cache", "clear", "--force", "a", "b", "-c", writeConfig(t, "name: x\n")})
	require.NoError(t, a.Command().Execute())
	assert.True(t, force)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestNamedFlagSets_Order(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("b")
	fss.FlagSet("a")
	fss.FlagSet("b")
	assert.Equal(t, []string{"b", "a"}, fss.Order)
}
