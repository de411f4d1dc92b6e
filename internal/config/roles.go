package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultRoleID = "helpful_assistant"

// Role is a named persona whose system prompt prefixes every generation.
type Role struct {
	Name         string `yaml:"name" json:"name"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

// Roles is the read-only role catalogue keyed by role id.
type Roles map[string]Role

// BuiltinRoles is used when no roles file is configured.
func BuiltinRoles() Roles {
	return Roles{
		"helpful_assistant": {
			Name:         "Helpful Assistant",
			SystemPrompt: "You are a helpful, friendly and knowledgeable AI assistant. Give clear, accurate and concise answers.",
		},
		"creative_writer": {
			Name:         "Creative Writer",
			SystemPrompt: "You are a creative writing assistant. Help with stories, poems and imaginative ideas using vivid, expressive language.",
		},
		"code_expert": {
			Name:         "Code Expert",
			SystemPrompt: "You are an expert software engineer. Explain code precisely, suggest best practices and include short examples when useful.",
		},
		"teacher": {
			Name:         "Patient Teacher",
			SystemPrompt: "You are a patient teacher. Break concepts into simple steps and check understanding with short examples.",
		},
		"business_advisor": {
			Name:         "Business Advisor",
			SystemPrompt: "You are a pragmatic business advisor. Give structured, actionable advice with clear trade-offs.",
		},
	}
}

// LoadRoles reads the catalogue from a YAML file, or returns the builtin
// catalogue when path is empty. The default role must be present.
//
//	helpful_assistant:
//	  name: Helpful Assistant
//	  system_prompt: You are a helpful assistant.
func LoadRoles(path, defaultRole string) (Roles, error) {
	roles := BuiltinRoles()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roles file: %w", err)
		}
		roles = Roles{}
		if err := yaml.Unmarshal(data, &roles); err != nil {
			return nil, fmt.Errorf("parse roles file: %w", err)
		}
	}
	if err := roles.validate(defaultRole); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r Roles) validate(defaultRole string) error {
	if len(r) == 0 {
		return fmt.Errorf("roles: catalogue is empty")
	}
	for id, role := range r {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("roles: empty role id")
		}
		if strings.TrimSpace(role.Name) == "" {
			return fmt.Errorf("roles: %s has no name", id)
		}
		if strings.TrimSpace(role.SystemPrompt) == "" {
			return fmt.Errorf("roles: %s has no system_prompt", id)
		}
	}
	if _, ok := r[defaultRole]; !ok {
		return fmt.Errorf("roles: default role %q is not defined", defaultRole)
	}
	return nil
}
