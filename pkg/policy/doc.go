// Package policy evaluates Open Policy Agent (OPA) Rego policies against the
// canonical configuration tree.
//
// Each policy is one Rego module. The tree is bound to input as plain JSON
// data, so a policy reads configuration keys directly:
//
//	package civa.local
//
//	import rego.v1
//
//	deny contains violation if {
//		input.shell.history > 5000
//		violation := {"message": "history is too long", "path": ["shell", "history"]}
//	}
//
// Results of the deny rule fail the build; results of the warn rule are
// reported as warnings. A result is either a string or an object with a
// message and an optional path, given as a dotted string or an array of keys.
//
// The engine ships built-in policies for the civa shell (aliases must not
// shadow builtins, command bar components must be unique). Additional
// policies are loaded from .rego files, or from .json files holding a Policy
// object, with Engine.LoadPolicies.
package policy
