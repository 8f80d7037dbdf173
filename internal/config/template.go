package config

import (
	"fmt"
	"os"
)

// DefaultTemplatePath is where otto init writes the scaffold.
const DefaultTemplatePath = "otto-deploy.json"

// Template returns an empty deployment document to fill in.
func Template() string {
	return template
}

// WriteTemplate writes the scaffold to path. An existing file is kept unless force is set.
func WriteTemplate(path string, force bool) error {
	if path == "" {
		path = DefaultTemplatePath
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; use --force to replace it", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o644)
}

const template = `{
	"assistant": {
		"unique_name": "",
		"friendly_name": "",
		"defaults": {
			"defaults": {
				"assistant_initiation": "",
				"fallback": "",
				"collect": {
					"validate_on_failure": ""
				}
			}
		}
	},
	"field_type__custom1": {
		"unique_name": "",
		"friendly_name": "",
		"values": []
	},
	"task__custom1": {
		"unique_name": "",
		"friendly_name": "",
		"actions": {
			"actions": []
		},
		"task_fields": [
			{
				"unique_name": "",
				"field_type": ""
			}
		],
		"samples": []
	},
	"model": {
		"unique_name": ""
	}
}
`
