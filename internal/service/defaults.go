package service

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nolongerevil/state-server-go/internal/util"
	"github.com/nolongerevil/state-server-go/internal/value"
)

//go:embed defaults.yaml
var defaultObjectsYAML []byte

type objectTemplate struct {
	KeyPrefix string         `yaml:"key_prefix"`
	Value     map[string]any `yaml:"value"`
}

type defaultsFile struct {
	AlertDialog objectTemplate `yaml:"alert_dialog"`
	UserProfile objectTemplate `yaml:"user_profile"`
}

// Defaults holds the bootstrap objects written when a device is linked.
type Defaults struct {
	dialogPrefix  string
	dialogValue   value.Value
	profilePrefix string
	profileValue  value.Value
}

// LoadDefaults parses a defaults document. Pass nil to use the embedded one.
func LoadDefaults(data []byte) (*Defaults, error) {
	if data == nil {
		data = defaultObjectsYAML
	}

	var file defaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse defaults: %w", err)
	}
	if file.AlertDialog.KeyPrefix == "" || file.UserProfile.KeyPrefix == "" {
		return nil, fmt.Errorf("parse defaults: key_prefix is required for alert_dialog and user_profile")
	}

	dialog, err := value.FromAny(file.AlertDialog.Value)
	if err != nil {
		return nil, fmt.Errorf("alert_dialog value: %w", err)
	}
	profile, err := value.FromAny(file.UserProfile.Value)
	if err != nil {
		return nil, fmt.Errorf("user_profile value: %w", err)
	}

	return &Defaults{
		dialogPrefix:  file.AlertDialog.KeyPrefix,
		dialogValue:   dialog.OrEmpty(),
		profilePrefix: file.UserProfile.KeyPrefix,
		profileValue:  profile.OrEmpty(),
	}, nil
}

// MustLoadDefaults loads the embedded defaults.
func MustLoadDefaults() *Defaults {
	d, err := LoadDefaults(nil)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Defaults) AlertDialogKey(serial string) string {
	return d.dialogPrefix + serial
}

func (d *Defaults) AlertDialogValue() value.Value {
	return d.dialogValue
}

// ProfileKey is keyed by the provider id with its "user_" prefix removed.
func (d *Defaults) ProfileKey(userID string) string {
	return d.profilePrefix + util.SanitizeUserID(userID)
}

func (d *Defaults) ProfileValue(email string) value.Value {
	return value.Merge(d.profileValue, value.MappingOf(map[string]value.Value{
		"email": value.StringOf(email),
	}))
}
