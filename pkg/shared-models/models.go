package datamodels

import (
	"fmt"
	"regexp"
	"time"

	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	validate = validator.New()
	envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	hostRe   = regexp.MustCompile(`^[A-Za-z0-9._@:\[\]-]+$`)
)

func init() {
	_ = validate.RegisterValidation("envkey", validateEnvKey)
	_ = validate.RegisterValidation("sshhost", validateHost)
}

func validateEnvKey(fl validator.FieldLevel) bool {
	return envKeyRe.MatchString(fl.Field().String())
}

// empty means local; anything else must be usable as a single ssh argument
func validateHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	return host == "" || hostRe.MatchString(host)
}

// Request asks for one command to be run, locally or on Host.
type Request struct {
	ExecutionUID uuid.UUID         `json:"exuid"`
	Name         string            `json:"name" validate:"required,max=128"`
	Cmd          string            `json:"cmd" validate:"required"`
	Host         string            `json:"host,omitempty" validate:"sshhost"`
	InstallRoot  string            `json:"installRoot,omitempty"`
	Stdin        string            `json:"stdin,omitempty"`
	Env          map[string]string `json:"env,omitempty" validate:"dive,keys,envkey,endkeys"`
	PostProcess  []string          `json:"postProcess,omitempty" validate:"dive,oneof=trim split_lines key_value drop_empty"`
}

type Response struct {
	ExecutionUID uuid.UUID `json:"exuid"`
}

func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

// ToCommand builds a fresh command from the request. A non-nil ExecutionUID
// becomes the command ID.
func (r *Request) ToCommand() *command.Command {
	opts := make([]command.Option, 0, len(r.Env)+3)
	if r.Host != "" {
		opts = append(opts, command.WithRemote(r.Host))
	}
	if r.InstallRoot != "" {
		opts = append(opts, command.WithInstallRoot(r.InstallRoot))
	}
	if r.Stdin != "" {
		opts = append(opts, command.WithStdin(r.Stdin))
	}
	for k, v := range r.Env {
		opts = append(opts, command.WithEnv(k, v))
	}
	cmd := command.New(r.Name, r.Cmd, opts...)
	if r.ExecutionUID != uuid.Nil {
		cmd.ID = r.ExecutionUID
	}
	return cmd
}

// Report is the externally visible outcome of a command.
type Report struct {
	ExecutionUID uuid.UUID `json:"exuid"`
	Name         string    `json:"name"`
	Host         string    `json:"host,omitempty"`
	State        string    `json:"state"`
	Rendered     string    `json:"rendered,omitempty"`
	ExitCode     *int      `json:"exitCode,omitempty"`
	Stdout       string    `json:"stdout,omitempty"`
	Stderr       string    `json:"stderr,omitempty"`
	Lines        []string  `json:"lines,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	Started      *time.Time `json:"started,omitempty"`
	Finished     *time.Time `json:"finished,omitempty"`
}

// NewReport snapshots cmd. Result fields stay empty until it is terminal.
func NewReport(cmd *command.Command) Report {
	rep := Report{
		ExecutionUID: cmd.ID,
		Name:         cmd.Name,
		Host:         cmd.Host(),
		State:        cmd.State().String(),
	}
	res, err := cmd.Result()
	if err != nil {
		return rep
	}
	rc := res.ExitCode
	rep.ExitCode = &rc
	rep.Rendered = res.Rendered
	rep.Stdout = res.Stdout
	rep.Stderr = res.Stderr
	rep.Attempts = res.Attempts
	rep.Started = timeOrNil(res.Started)
	rep.Finished = timeOrNil(res.Finished)
	if cerr := cmd.Err(); cerr != nil {
		rep.Error = cerr.Error()
	}
	return rep
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r Report) Successful() bool {
	return r.State == command.Completed.String() && r.ExitCode != nil && *r.ExitCode == 0
}
