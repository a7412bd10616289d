// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/andrej220/clusterexec/pkg/config/configstore"
	"github.com/andrej220/clusterexec/pkg/config/filestore"
	"github.com/andrej220/clusterexec/pkg/config/mongostore"
	"github.com/go-playground/validator/v10"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

const (
	// InstallRootEnv seeds the default install root at process start.
	InstallRootEnv    = "GPHOME"
	DefaultWorkers    = 16
	DefaultRetryDelay = 500 * time.Millisecond
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

var validate = validator.New()

var installRoot atomic.Pointer[string]

func init() {
	root := os.Getenv(InstallRootEnv)
	installRoot.Store(&root)
}

// InstallRoot returns the process-wide default install root used by remote
// execution contexts that were not given their own.
func InstallRoot() string {
	return *installRoot.Load()
}

// SetInstallRoot replaces the process-wide default install root.
func SetInstallRoot(path string) {
	installRoot.Store(&path)
}

// Config interface that combines all store capabilities
type Config interface {
	configstore.ConfigStore
	Watch(onChange func()) error // Optional for stores that support watching
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // Document ID
}

type Settings struct {
	InstallRoot string        `yaml:"installRoot" json:"installRoot" bson:"installRoot" validate:"required"`
	Workers     int           `yaml:"workers" json:"workers" bson:"workers" validate:"min=1,max=1024"`
	RetryDelay  time.Duration `yaml:"retryDelay" json:"retryDelay" bson:"retryDelay"`
	ReportDir   string        `yaml:"reportDir" json:"reportDir" bson:"reportDir"`

	Log struct {
		Debug  bool   `yaml:"debug" json:"debug" bson:"debug"`
		Format string `yaml:"format" json:"format" bson:"format" validate:"omitempty,oneof=json console"`
	} `yaml:"log" json:"log" bson:"log"`

	Server struct {
		Port string `yaml:"port" json:"port" bson:"port" validate:"omitempty,numeric"`
	} `yaml:"server" json:"server" bson:"server"`

	Kafka struct {
		Brokers      []string `yaml:"brokers" json:"brokers" bson:"brokers"`
		RequestTopic string   `yaml:"requestTopic" json:"requestTopic" bson:"requestTopic" validate:"required_with=Brokers"`
		ReportTopic  string   `yaml:"reportTopic" json:"reportTopic" bson:"reportTopic"`
		GroupID      string   `yaml:"groupID" json:"groupID" bson:"groupID"`
	} `yaml:"kafka" json:"kafka" bson:"kafka"`
}

// NewSettings returns settings with defaults applied and the install root
// taken from the current process-wide default.
func NewSettings() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

func (s *Settings) ApplyDefaults() {
	if s.InstallRoot == "" {
		s.InstallRoot = InstallRoot()
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = DefaultRetryDelay
	}
	if s.Log.Format == "" {
		s.Log.Format = "json"
	}
}

func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	return nil
}

// ValidateLocal is Validate minus the install root, which only remote
// execution needs.
func (s *Settings) ValidateLocal() error {
	if err := validate.StructExcept(s, "InstallRoot"); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	return nil
}

// Apply publishes the settings that are process-wide.
func (s *Settings) Apply() {
	SetInstallRoot(s.InstallRoot)
}

func NewStore(storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		store, err := mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// Load reads settings from store, fills defaults, validates them and makes
// them the process-wide settings.
func Load(store configstore.ConfigStore) (*Settings, error) {
	s := &Settings{}
	if err := store.Load(s); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Apply()
	return s, nil
}
