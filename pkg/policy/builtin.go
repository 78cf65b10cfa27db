package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		aliasPolicy(),
		commandBarPolicy(),
	}
}

// aliasPolicy rejects aliases that shadow shell builtins and warns about
// aliases with an empty command.
func aliasPolicy() Policy {
	return Policy{
		Name:        "aliases",
		Description: "Aliases must not shadow shell builtins and should expand to a command",
		Enabled:     true,
		Builtin:     true,
		Rego: `package civa.aliases

import rego.v1

builtins := {":q", "alias", "cd", "penv", "quit"}

# An alias named like a builtin would never run.
deny contains violation if {
	some name, _ in input.alias
	builtins[name]
	violation := {
		"message": sprintf("alias %q shadows the shell builtin of the same name", [name]),
		"path": ["alias", name],
	}
}

warn contains violation if {
	some name, command in input.alias
	is_string(command)
	trim_space(command) == ""
	violation := {
		"message": sprintf("alias %q expands to an empty command", [name]),
		"path": ["alias", name],
	}
}
`,
	}
}

// commandBarPolicy rejects duplicate command bar components and styling for
// components that are not displayed.
func commandBarPolicy() Policy {
	return Policy{
		Name:        "command-bar",
		Description: "Command bar components must be unique and styled components must be displayed",
		Enabled:     true,
		Builtin:     true,
		Rego: `package civa.bar

import rego.v1

deny contains violation if {
	components := input.bar.components
	some i, c in components
	some j, d in components
	i < j
	c == d
	violation := {
		"message": sprintf("command bar component %q is listed more than once", [c]),
		"path": ["bar", "components"],
	}
}

warn contains violation if {
	input.bar.components
	components := {c | some c in input.bar.components}
	some name, _ in input.bar.component
	not components[name]
	violation := {
		"message": sprintf("styling for %q has no effect: it is not in bar.components", [name]),
		"path": ["bar", "component", name],
	}
}
`,
	}
}
