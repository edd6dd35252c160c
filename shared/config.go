package shared

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	incus "github.com/lxc/incus/v6/shared/util"
	yaml "gopkg.in/yaml.v2"
)

// DefaultPublicBuildVersionsURL is where the manifest of the last published build lives.
const DefaultPublicBuildVersionsURL = "https://fedorapeople.org/groups/virt/virtio-win/direct-downloads/virtio-win-pkg-scripts-input/latest-build/buildversions.json"

// DefaultStableRPMs lists the stable virtio-win releases, newest first.
var DefaultStableRPMs = []string{
	"0.1.185-2",
	"0.1.171-1",
	"0.1.160-1",
	"0.1.141-1",
	"0.1.126-2",
	"0.1.110-1",
	"0.1.102-1",
	"0.1.96-1",
}

// Config holds the settings shared by all sub-commands.
type Config struct {
	InternalURL            string   `yaml:"internal_url,omitempty"`
	PublicBuildVersionsURL string   `yaml:"public_buildversions_url,omitempty"`
	Email                  string   `yaml:"email,omitempty"`
	FASUsername            string   `yaml:"fas_username,omitempty"`
	LocalRepoDir           string   `yaml:"local_repo_dir,omitempty"`
	Remote                 string   `yaml:"remote,omitempty"`
	HTTPDirectDir          string   `yaml:"http_direct_dir,omitempty"`
	StableRPMs             []string `yaml:"stable_rpms,omitempty"`
	Editor                 string   `yaml:"editor,omitempty"`
	InstallerDir           string   `yaml:"installer_dir,omitempty"`
	WinFSPRepo             string   `yaml:"winfsp_repo,omitempty"`
}

// DefaultConfigPath returns ~/.config/virtio-win-pkg-scripts/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "virtio-win-pkg-scripts", "config.yaml")
}

// LoadConfig reads the config file, applies key=value overrides and fills in defaults.
// A missing file at the default location is not an error.
func LoadConfig(fname string, options []string) (*Config, error) {
	var config Config

	explicit := fname != ""
	if !explicit {
		fname = DefaultConfigPath()
	}

	if fname != "" && (explicit || incus.PathExists(fname)) {
		content, err := os.ReadFile(fname)
		if err != nil {
			return nil, fmt.Errorf("Failed to read config file %q: %w", fname, err)
		}

		err = yaml.UnmarshalStrict(content, &config)
		if err != nil {
			return nil, fmt.Errorf("Failed to parse config file %q: %w", fname, err)
		}
	}

	// Set options from the command line
	for _, o := range options {
		parts := strings.SplitN(o, "=", 2)
		if len(parts) != 2 {
			return nil, errors.New("Options need to be of type key=value")
		}

		err := config.SetValue(parts[0], parts[1])
		if err != nil {
			return nil, fmt.Errorf("Failed to set option %s: %w", o, err)
		}
	}

	config.SetDefaults()

	return &config, nil
}

// SetValue sets the field whose yaml name is key.
func (c *Config) SetValue(key string, value string) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if name != key {
			continue
		}

		field := v.Field(i)

		switch field.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Slice:
			var values []string

			for _, s := range strings.Split(value, ",") {
				s = strings.TrimSpace(s)
				if s != "" {
					values = append(values, s)
				}
			}

			field.Set(reflect.ValueOf(values))
		default:
			return fmt.Errorf("Unsupported type for key %q", key)
		}

		return nil
	}

	return fmt.Errorf("Unknown key %q", key)
}

// SetDefaults fills in unset fields from the environment and built-in defaults.
func (c *Config) SetDefaults() {
	if c.PublicBuildVersionsURL == "" {
		c.PublicBuildVersionsURL = DefaultPublicBuildVersionsURL
	}

	if c.Email == "" {
		c.Email = os.Getenv("EMAIL")
	}

	if c.FASUsername == "" {
		c.FASUsername = os.Getenv("FAS_USERNAME")
	}

	if c.LocalRepoDir == "" {
		c.LocalRepoDir = "~/src/fedora/virt-group-repos/virtio-win"
	}

	c.LocalRepoDir = expandHome(c.LocalRepoDir)

	if c.Remote == "" {
		c.Remote = "fedorapeople.org:/srv/groups/virt/virtio-win"
	}

	if c.HTTPDirectDir == "" {
		c.HTTPDirectDir = "/groups/virt/virtio-win/direct-downloads"
	}

	if len(c.StableRPMs) == 0 {
		c.StableRPMs = append([]string{}, DefaultStableRPMs...)
	}

	if c.Editor == "" {
		c.Editor = os.Getenv("EDITOR")
	}

	if c.Editor == "" {
		c.Editor = "vim"
	}

	if c.InstallerDir == "" {
		c.InstallerDir = "virtio-win-guest-tools-installer"
	}

	if c.WinFSPRepo == "" {
		c.WinFSPRepo = "winfsp/winfsp"
	}
}

// ValidateFetch checks the settings needed to poll the build servers.
func (c *Config) ValidateFetch() error {
	if c.InternalURL == "" {
		return fmt.Errorf("internal_url is not set, see the docs: %s", DefaultConfigPath())
	}

	return nil
}

// ValidateRPM checks the settings needed to build the RPM.
func (c *Config) ValidateRPM() error {
	if c.Email == "" {
		return errors.New("email is not set, set it in the config file or through the EMAIL environment variable")
	}

	return nil
}

// ValidateRepo checks the settings needed to publish the repository.
func (c *Config) ValidateRepo() error {
	if c.FASUsername == "" {
		return errors.New("fas_username is not set, set it in the config file or through the FAS_USERNAME environment variable")
	}

	if !incus.PathExists(c.LocalRepoDir) {
		return fmt.Errorf("Expected local virtio-win mirror does not exist: %s", c.LocalRepoDir)
	}

	if len(c.StableRPMs) == 0 {
		return errors.New("stable_rpms must not be empty")
	}

	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
