package datamodels

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{name: "local", req: Request{Name: "ls", Cmd: "ls /tmp"}},
		{name: "remote with env", req: Request{Name: "ls", Cmd: "ls", Host: "sdw1", Env: map[string]string{"PGPORT": "5432", "_x": "1"}}},
		{name: "user at host", req: Request{Name: "ls", Cmd: "ls", Host: "gpadmin@sdw1.example.com"}},
		{name: "missing name", req: Request{Cmd: "ls"}, wantErr: true},
		{name: "missing cmd", req: Request{Name: "ls"}, wantErr: true},
		{name: "host with space", req: Request{Name: "ls", Cmd: "ls", Host: "sdw1 -o Foo"}, wantErr: true},
		{name: "ipv6 host", req: Request{Name: "ls", Cmd: "ls", Host: "[fe80::1]"}},
		{name: "host with shell metacharacter", req: Request{Name: "ls", Cmd: "ls", Host: "sdw1;reboot"}, wantErr: true},
		{name: "bad env key", req: Request{Name: "ls", Cmd: "ls", Env: map[string]string{"1BAD": "x"}}, wantErr: true},
		{name: "post processing", req: Request{Name: "ls", Cmd: "ls", PostProcess: []string{"trim", "key_value"}}},
		{name: "unknown post processor", req: Request{Name: "ls", Cmd: "ls", PostProcess: []string{"xml"}}, wantErr: true},
		{name: "env key with equals", req: Request{Name: "ls", Cmd: "ls", Env: map[string]string{"A=B": "x"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToCommand(t *testing.T) {
	id := uuid.New()
	req := Request{
		ExecutionUID: id,
		Name:         "ls",
		Cmd:          "ls /tmp",
		Host:         "sdw1",
		InstallRoot:  "/opt/db",
		Stdin:        "payload",
		Env:          map[string]string{"foo": "1", "bar": "1"},
	}
	cmd := req.ToCommand()

	assert.Equal(t, id, cmd.ID)
	assert.Equal(t, "sdw1", cmd.Host())
	assert.Equal(t, "/opt/db", cmd.InstallRoot())
	assert.Equal(t, "payload", cmd.Stdin())
	assert.Equal(t, "bar=1 && foo=1 && ls /tmp", cmd.Render())
	assert.Equal(t, command.NotStarted, cmd.State())

	local := (&Request{Name: "ls", Cmd: "ls"}).ToCommand()
	assert.False(t, local.IsRemote())
	assert.NotEqual(t, uuid.Nil, local.ID)
}

func TestNewReport(t *testing.T) {
	cmd := command.New("ls", "ls /nope", command.WithRemote("sdw1"))

	rep := NewReport(cmd)
	assert.Equal(t, "not_started", rep.State)
	assert.Nil(t, rep.ExitCode)
	assert.False(t, rep.Successful())
	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"started"`)
	assert.NotContains(t, string(raw), `"finished"`)

	require.NoError(t, cmd.Begin())
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, cmd.Finish(command.Result{ExitCode: 2, Stderr: "no such file", Attempts: 1,
		Started: started, Finished: started.Add(time.Second)}, errors.New("exit status 2")))

	rep = NewReport(cmd)
	assert.Equal(t, cmd.ID, rep.ExecutionUID)
	assert.Equal(t, "failed", rep.State)
	require.NotNil(t, rep.ExitCode)
	assert.Equal(t, 2, *rep.ExitCode)
	assert.Equal(t, "no such file", rep.Stderr)
	assert.Equal(t, "exit status 2", rep.Error)
	assert.False(t, rep.Successful())
	require.NotNil(t, rep.Started)
	assert.Equal(t, started, *rep.Started)
	require.NotNil(t, rep.Finished)
	assert.Equal(t, started.Add(time.Second), *rep.Finished)

	raw, err = json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"exitCode":2`)
	assert.Contains(t, string(raw), `"started":"2024-05-01T10:00:00Z"`)
}
