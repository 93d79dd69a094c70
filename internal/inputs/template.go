package inputs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"patentbatch/internal/services"
	"patentbatch/internal/task"
)

// LoadTemplate reads a prompt template from a TOML or JSON file.
func LoadTemplate(path string) (task.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return task.Template{}, services.Wrap(services.ErrNotFound, "inputs", "read template", filepath.Base(path), err)
	}
	var tpl task.Template
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tpl); err != nil {
			return task.Template{}, services.Wrap(services.ErrValidation, "inputs", "parse template", filepath.Base(path), err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tpl); err != nil {
			return task.Template{}, services.Wrap(services.ErrValidation, "inputs", "parse template", filepath.Base(path), err)
		}
	default:
		return task.Template{}, services.Wrap(services.ErrValidation, "inputs", "parse template", "template must be .toml or .json", nil)
	}
	if err := ValidateTemplate(tpl); err != nil {
		return task.Template{}, err
	}
	if tpl.Name == "" {
		tpl.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tpl, nil
}

// ValidateTemplate checks the fields every request needs.
func ValidateTemplate(tpl task.Template) error {
	if strings.TrimSpace(tpl.Model) == "" {
		return services.Wrap(services.ErrValidation, "inputs", "validate template", "model is required", nil)
	}
	if tpl.Temperature < 0 || tpl.Temperature > 2 {
		return services.Wrap(services.ErrValidation, "inputs", "validate template", "temperature must be between 0 and 2", nil)
	}
	if strings.Count(tpl.UserPromptTemplate, task.InputPlaceholder) > 1 {
		return services.Wrap(services.ErrValidation, "inputs", "validate template", "user prompt template may contain at most one "+task.InputPlaceholder, nil)
	}
	seen := map[string]struct{}{}
	for _, f := range tpl.OutputFields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return services.Wrap(services.ErrValidation, "inputs", "validate template", "output field name is required", nil)
		}
		if _, dup := seen[name]; dup {
			return services.Wrap(services.ErrValidation, "inputs", "validate template", "duplicate output field "+name, nil)
		}
		seen[name] = struct{}{}
	}
	return nil
}
