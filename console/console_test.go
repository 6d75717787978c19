package console

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecCommand(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	var got []string
	r.RegisterCommand("echo", "records its args", func(args []string) error {
		got = args
		return nil
	})
	r.RegisterCommand("fail", "always fails", func([]string) error {
		return errors.New("nope")
	})

	_, err := r.Exec("  echo a   b ")
	require.NoError(err)
	require.Equal([]string{"a", "b"}, got)

	_, err = r.Exec("fail")
	require.EqualError(err, "nope")

	_, err = r.Exec("missing")
	require.ErrorIs(err, ErrUnknownCommand)

	out, err := r.Exec("")
	require.NoError(err)
	require.Empty(out)

	cmds := r.Commands()
	require.Len(cmds, 2)
	require.Equal("echo", cmds[0].Name)
}

func TestVars(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	r.RegisterVar("f_basePath", "base", func() string { return "/base/" })

	value := "1"
	r.RegisterWritableVar("w", "writable", func() string { return value }, func(s string) error {
		value = s
		return nil
	})

	out, err := r.Exec("get f_basePath")
	require.NoError(err)
	require.Equal("/base/", out)

	_, err = r.Exec("set f_basePath /other/")
	require.ErrorIs(err, ErrReadOnly)

	_, err = r.Exec("set w 2")
	require.NoError(err)
	require.Equal("2", value)

	_, err = r.Get("nope")
	require.ErrorIs(err, ErrUnknownVar)

	require.Equal(map[string]string{"f_basePath": "/base/", "w": "2"}, r.Vars())
}
