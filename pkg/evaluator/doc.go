// Package evaluator turns configuration sources into value trees.
//
// # Overview
//
// Each located source is handed to the frontend registered for its extension.
// Frontends are pure: they read nothing but the source content, perform no
// I/O and never observe other sources. Cross-file links are expressed as
// references which survive evaluation and are resolved by the merger.
//
// # Formats
//
//   - .cfg: a declarative subset of Starlark (assignments only)
//   - .yaml/.yml: YAML mappings, with the !ref tag for references
//   - .toml: TOML documents
//   - .hcl: HCL attributes and blocks, without variables or functions
//   - .alias: the legacy civa alias file
//
// # The .cfg language
//
// A .cfg file is a sequence of assignments:
//
//	shell.prompt = "%s > " % user
//	user = "root"
//	colors = {"error": "red", "ok": "green"}
//	history.size = 10 * 1000
//	bar.components = [c for c in ["cwd", "svn", "prompt"] if c != "svn"]
//	theme = ref(defaults.theme)
//
// Names may be used before they are assigned; the evaluator orders bindings
// by their dependencies. Control flow, function definitions, loads and calls
// to anything but the pure builtins listed in Builtins are rejected.
package evaluator
