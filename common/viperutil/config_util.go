/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package viperutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var logger = flogging.MustGetLogger("viperutil")

// CfgPathEnv names the environment variable that points at the directory
// holding the console configuration.
const CfgPathEnv = "CONSOLE_CFG_PATH"

// ConfigPaths returns the directories searched for a config file: the one
// named by CONSOLE_CFG_PATH, the working directory and
// /etc/hyperledger/console.
func ConfigPaths() []string {
	var paths []string
	if p := os.Getenv(CfgPathEnv); p != "" {
		paths = append(paths, p)
	}
	return append(paths, ".", "/etc/hyperledger/console")
}

// ConfigParser reads a YAML config file and decodes it into a struct,
// letting environment variables override individual leaves.
type ConfigParser struct {
	configPaths []string
	configName  string
	configFile  string

	config map[string]interface{}
	getenv func(string) string
}

// New creates a ConfigParser instance
func New() *ConfigParser {
	return &ConfigParser{
		config: map[string]interface{}{},
		getenv: os.Getenv,
	}
}

// AddConfigPaths appends directories to search for the config file.
func (c *ConfigParser) AddConfigPaths(cfgPaths ...string) {
	c.configPaths = append(c.configPaths, cfgPaths...)
}

// SetConfigName sets the config file stem. Upper-cased, it also prefixes
// the environment overrides.
func (c *ConfigParser) SetConfigName(in string) {
	c.configName = in
}

// SetConfigFile pins the configuration file, bypassing the path search.
func (c *ConfigParser) SetConfigFile(file string) {
	c.configFile = file
}

// ConfigFileUsed returns the file read by ReadInConfig.
func (c *ConfigParser) ConfigFileUsed() string {
	return c.configFile
}

func (c *ConfigParser) locate() string {
	if c.configFile != "" {
		return c.configFile
	}
	paths := c.configPaths
	if len(paths) == 0 {
		paths = ConfigPaths()
	}
	for _, dir := range paths {
		for _, ext := range []string{"yaml", "yml"} {
			candidate := filepath.Join(dir, c.configName+"."+ext)
			if _, err := os.Stat(candidate); err == nil {
				c.configFile = candidate
				return candidate
			}
		}
	}
	return ""
}

// ReadInConfig locates, reads and parses the config file.
func (c *ConfigParser) ReadInConfig() error {
	cf := c.locate()
	if cf == "" {
		return errors.Errorf("config file %s not found in %s", c.configName, strings.Join(c.configPaths, ", "))
	}
	logger.Debugf("Attempting to open the config file: %s", cf)
	file, err := os.Open(cf)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.ReadConfig(file)
}

// ReadConfig parses YAML from in.
func (c *ConfigParser) ReadConfig(in io.Reader) error {
	return yaml.NewDecoder(in).Decode(c.config)
}

func (c *ConfigParser) envValue(path []string) string {
	key := strings.Join(path, "_")
	if c.configName != "" {
		key = c.configName + "_" + key
	}
	return c.getenv(strings.ToUpper(key))
}

// fieldTypes maps every node key, plus every struct field missing from the
// node, to the type it decodes into. Missing fields are added to node so
// that environment variables can supply them.
func fieldTypes(node map[string]interface{}, t reflect.Type) map[string]reflect.Type {
	types := map[string]reflect.Type{}
	if t == nil {
		return types
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return types
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Name
		for k := range node {
			if strings.EqualFold(k, field.Name) {
				key = k
				break
			}
		}
		if _, ok := node[key]; !ok {
			node[key] = nil
		}
		types[key] = field.Type
	}
	return types
}

// overlay returns a copy of node with environment overrides applied to its
// leaves.
func (c *ConfigParser) overlay(path []string, node map[string]interface{}, t reflect.Type) map[string]interface{} {
	types := fieldTypes(node, t)
	result := map[string]interface{}{}
	for key, val := range node {
		keyPath := append(append([]string{}, path...), key)
		if override := c.envValue(keyPath); override != "" {
			val = override
		}

		switch v := val.(type) {
		case map[string]interface{}:
			result[key] = c.overlay(keyPath, v, types[key])
		case map[interface{}]interface{}:
			result[key] = c.overlay(keyPath, stringKeys(v), types[key])
		case nil:
			if override := c.envValue(append(keyPath, "File")); override != "" {
				result[key] = map[string]interface{}{"File": override}
			}
		default:
			result[key] = v
		}
	}
	return result
}

func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	result := map[string]interface{}{}
	for k, v := range m {
		result[fmt.Sprint(k)] = v
	}
	return result
}

// listDecodeHook turns "[a, b, c]" strings, as set through the
// environment, into string slices.
func listDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String || t != reflect.Slice {
		return data, nil
	}
	raw := strings.TrimSpace(data.(string))
	if len(raw) < 2 || raw[0] != '[' || raw[len(raw)-1] != ']' {
		return data, nil
	}
	items := strings.Split(raw[1:len(raw)-1], ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items, nil
}

// fileDecodeHook replaces a {File: path} map bound for a string with the
// contents of path.
func fileDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.Map || t != reflect.String {
		return data, nil
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		return data, nil
	}
	name, ok := m["File"]
	if !ok {
		name, ok = m["file"]
	}
	if !ok {
		return data, nil
	}
	path, isString := name.(string)
	if !isString || path == "" {
		return nil, errors.New("Value of File: was nil")
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return string(contents), nil
}

// EnhancedExactUnmarshal decodes the config into output, which must point
// to a struct. Keys without a matching field are an error. Durations, byte
// sizes, bracketed lists and {File: path} values are understood.
func (c *ConfigParser) EnhancedExactUnmarshal(output interface{}) error {
	oType := reflect.TypeOf(output)
	if oType == nil || oType.Kind() != reflect.Ptr {
		return errors.Errorf("supplied output argument must be a pointer to a struct but is not pointer")
	}
	if oType.Elem().Kind() != reflect.Struct {
		return errors.Errorf("supplied output argument must be a pointer to a struct, but it is pointer to something else")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		Result:           output,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			listDecodeHook,
			UnsignedDecodeHook,
			ByteSizeDecodeHook,
			fileDecodeHook,
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(c.overlay(nil, c.config, oType.Elem()))
}
