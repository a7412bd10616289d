// test module for package persistence

package persistence_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/clusterexec/pkg/command"
	"github.com/andrej220/clusterexec/pkg/persistence"
	dm "github.com/andrej220/clusterexec/pkg/shared-models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = "{\n    \"key\": \"value\"\n}"

type MockSerializer struct {
	Bytes []byte
	Err   error
}

func (s MockSerializer) Marshal(data any) ([]byte, error) {
	return s.Bytes, s.Err
}

type MockWriter struct {
	Data map[string][]byte
	Err  error
}

func (w *MockWriter) Write(filename string, data []byte) error {
	if w.Data == nil {
		w.Data = make(map[string][]byte)
	}
	w.Data[filename] = data
	return w.Err
}

func TestWriteJSONToFile(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		serializer  persistence.Serializer
		writer      persistence.Writer
		expectedErr bool
	}{
		{
			name:       "valid input",
			filename:   filepath.Join(t.TempDir(), "output.json"),
			serializer: MockSerializer{Bytes: []byte(sampleJSON)},
			writer:     &MockWriter{},
		},
		{
			name:        "empty filename",
			filename:    "",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "serializer error",
			filename:    "test.json",
			serializer:  MockSerializer{Err: fmt.Errorf("serialization failed")},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "writer error",
			filename:    "test.json",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{Err: fmt.Errorf("write failed")},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistence.WriteJSONToFile(map[string]string{"key": "value"}, tt.filename, tt.serializer, tt.writer)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if writer, ok := tt.writer.(*MockWriter); ok {
				assert.Equal(t, sampleJSON, string(writer.Data[tt.filename]))
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "output.json")

	require.NoError(t, persistence.WriteJSON(map[string]string{"key": "value"}, filename))
	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(raw))

	require.NoError(t, persistence.WriteJSON(map[string]string{"key": "other"}, filename), "overwrite enabled")
}

func TestFileWriterNoOverwrite(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "once.json")
	w := persistence.FileWriter{}

	require.NoError(t, w.Write(filename, []byte("{}")))
	assert.ErrorIs(t, w.Write(filename, []byte("{}")), os.ErrExist)
	assert.ErrorIs(t, w.Write("", nil), os.ErrInvalid)

	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReportStore(t *testing.T) {
	store := persistence.NewReportStore(t.TempDir())

	cmd := command.New("ls", "ls /tmp")
	require.NoError(t, cmd.Begin())
	require.NoError(t, cmd.Finish(command.Result{ExitCode: 0, Stdout: "a\nb\n", Attempts: 1}, nil))
	rep := dm.NewReport(cmd)

	require.NoError(t, store.Save(rep))
	assert.FileExists(t, filepath.Join(store.Dir, cmd.ID.String()+".json"))

	got, err := store.Load(cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.Name, got.Name)
	assert.Equal(t, rep.Stdout, got.Stdout)
	assert.True(t, got.Successful())

	_, err = store.Load(uuid.New())
	assert.ErrorIs(t, err, persistence.ErrReportNotFound)

	assert.Error(t, store.Save(dm.Report{Name: "no id"}))
}

func ExampleWriteJSONToFile() {
	data := map[string]string{"key": "value"}
	serializer := persistence.JSONSerializer{Prefix: persistence.Prefix, Indent: persistence.Indent}
	writer := persistence.FileWriter{Overwrite: true}

	filename := filepath.Join(os.TempDir(), "clusterexec-example.json")
	if err := persistence.WriteJSONToFile(data, filename, serializer, writer); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println("Data written successfully")
	// Output: Data written successfully
}
